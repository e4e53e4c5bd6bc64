package llm

import (
	"context"
)

// Mock is a scripted Client for tests and offline development. It replays
// Fragments in order; if Err is set, the stream fails after FailAfter
// fragments have been delivered.
type Mock struct {
	Fragments []string
	FailAfter int
	Err       error
}

// NewMock creates a Mock that streams the given fragments successfully.
func NewMock(fragments ...string) *Mock {
	return &Mock{Fragments: fragments}
}

// Name returns the provider name.
func (m *Mock) Name() string {
	return "mock"
}

// Models returns available models.
func (m *Mock) Models() []string {
	return []string{"mock"}
}

// StreamReply replays the scripted fragments.
func (m *Mock) StreamReply(ctx context.Context, history []ChatMessage, model string, onFragment FragmentCallback) (string, error) {
	var content string
	for i, fragment := range m.Fragments {
		if m.Err != nil && i >= m.FailAfter {
			return "", m.Err
		}
		content += fragment
		if err := onFragment(fragment); err != nil {
			return "", err
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	return content, nil
}
