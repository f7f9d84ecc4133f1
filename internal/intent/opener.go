package intent

// HeadlessOpener is the WindowOpener for deployments where the service does
// not control the user's screen: the authorization URL is surfaced through
// OnOpen (logged, or relayed to the UI over a side channel) and the window
// is supervised only through the status endpoint. It never reports closed,
// so the wait ends on a terminal status or on the poll budget.
type HeadlessOpener struct {
	OnOpen func(url string)
}

// Open surfaces the URL and returns an always-open window.
func (o *HeadlessOpener) Open(url string) (Window, error) {
	if o.OnOpen != nil {
		o.OnOpen(url)
	}
	return headlessWindow{}, nil
}

type headlessWindow struct{}

func (headlessWindow) Closed() bool { return false }
func (headlessWindow) Close()       {}
