package calling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"chatflow/signaling/models"
)

// fakeRelay is a scriptable stand-in for the signaling server: it records
// deposits and serves queued poll batches, without auth or real mailboxes.
type fakeRelay struct {
	t *testing.T

	mu         sync.Mutex
	deposits   []models.SendSignalRequest
	pollQueue  [][]models.SignalEvent
	failPolls  int
	heartbeats int
	markers    []markerPost

	// onDeposit runs in the request goroutine after the deposit is recorded,
	// while the depositing client is still blocked on its response.
	onDeposit func(models.SendSignalRequest)

	server *httptest.Server
}

type markerPost struct {
	path    string
	content string
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	r := &fakeRelay{t: t}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/signal/send", func(w http.ResponseWriter, req *http.Request) {
		var body models.SendSignalRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.deposits = append(r.deposits, body)
		hook := r.onDeposit
		r.mu.Unlock()
		if hook != nil {
			hook(body)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
	})
	mux.HandleFunc("/api/signal/poll", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		if r.failPolls > 0 {
			r.failPolls--
			r.mu.Unlock()
			http.Error(w, "relay unavailable", http.StatusInternalServerError)
			return
		}
		batch := []models.SignalEvent{}
		if len(r.pollQueue) > 0 {
			batch = r.pollQueue[0]
			r.pollQueue = r.pollQueue[1:]
		}
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(batch)
	})
	mux.HandleFunc("/api/presence/heartbeat", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.heartbeats++
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	})
	mux.HandleFunc("/api/chats/", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.markers = append(r.markers, markerPost{path: req.URL.Path, content: body.Content})
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "created"})
	})

	r.server = httptest.NewServer(mux)
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRelay) client() *Client {
	return NewClient(r.server.URL, "test-token")
}

func (r *fakeRelay) enqueuePoll(events ...models.SignalEvent) {
	r.mu.Lock()
	r.pollQueue = append(r.pollQueue, events)
	r.mu.Unlock()
}

func (r *fakeRelay) failNextPolls(n int) {
	r.mu.Lock()
	r.failPolls = n
	r.mu.Unlock()
}

func (r *fakeRelay) depositCount(kind models.SignalKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, d := range r.deposits {
		if d.Kind == kind {
			count++
		}
	}
	return count
}

func (r *fakeRelay) heartbeatCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeats
}

func (r *fakeRelay) postedMarkers() []markerPost {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]markerPost(nil), r.markers...)
}

func (r *fakeRelay) setOnDeposit(hook func(models.SendSignalRequest)) {
	r.mu.Lock()
	r.onDeposit = hook
	r.mu.Unlock()
}
