package testing

import (
	"bytes"
	"sync"

	"github.com/tarantool/go-tarantool/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// iprotoData is the IPROTO_DATA key of a response body.
const iprotoData = 0x30

// MockResponse is a successful call response.
type MockResponse struct {
	header tarantool.Header
	data   []byte
}

// NewMockResponse encodes results as the data of a call response.
func NewMockResponse(t T, results ...any) *MockResponse {
	t.Helper()

	if results == nil {
		results = []any{}
	}

	data, err := msgpack.Marshal(map[int][]any{iprotoData: results})
	if err != nil {
		t.Fatalf("failed to encode response: %s", err)
	}

	return &MockResponse{header: tarantool.Header{}, data: data}
}

type doerResponse struct {
	resp *MockResponse
	err  error
}

// MockDoer is an implementation of the Doer interface
// used for testing purposes.
type MockDoer struct {
	mu sync.Mutex
	// Requests is a slice of received requests.
	// It could be used to compare incoming requests with expected.
	Requests  []tarantool.Request
	responses []doerResponse
	t         T
}

// NewMockDoer creates a MockDoer by given responses.
// Each response could be one of two types: *MockResponse or error.
func NewMockDoer(t T, responses ...any) *MockDoer {
	t.Helper()

	mockDoer := &MockDoer{
		mu:        sync.Mutex{},
		t:         t,
		Requests:  []tarantool.Request{},
		responses: []doerResponse{},
	}

	for _, response := range responses {
		doerResp := doerResponse{
			resp: nil,
			err:  nil,
		}

		switch resp := response.(type) {
		case *MockResponse:
			doerResp.resp = resp
		case error:
			doerResp.err = resp
		default:
			t.Fatalf("unsupported type: %T", response)
		}

		mockDoer.responses = append(mockDoer.responses, doerResp)
	}

	return mockDoer
}

// Do returns a future with the current response or an error.
// It saves the current request into MockDoer.Requests.
func (d *MockDoer) Do(req tarantool.Request) *tarantool.Future {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Requests = append(d.Requests, req)

	fut := tarantool.NewFuture(req)

	if len(d.responses) == 0 {
		d.t.Fatalf("list of responses is empty")
	}

	response := d.responses[0]

	if response.err != nil {
		fut.SetError(response.err)
	} else {
		_ = fut.SetResponse(response.resp.header, bytes.NewBuffer(response.resp.data))
	}

	d.responses = d.responses[1:]

	return fut
}

// Remaining returns how many responses were not consumed.
func (d *MockDoer) Remaining() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.responses)
}
