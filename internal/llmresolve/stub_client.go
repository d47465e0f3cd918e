package llmresolve

import "context"

// StubClient is a deterministic Client for tests and offline runs: it
// returns a fixed response regardless of input, so callers can exercise the
// resolver's cache/cost/tier logic without a network dependency.
type StubClient struct {
	FixedResponse Response
	ModelName     string
	Err           error
}

func (s StubClient) Resolve(ctx context.Context, req Request) (Response, error) {
	if s.Err != nil {
		return Response{}, s.Err
	}
	return s.FixedResponse, nil
}

func (s StubClient) Model() string {
	if s.ModelName != "" {
		return s.ModelName
	}
	return "stub"
}
