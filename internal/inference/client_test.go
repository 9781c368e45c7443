package inference_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/event"
	"vigil/internal/inference"
	"vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/circuit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecord() event.NormalizedRecord {
	return event.NormalizedRecord{
		EventID:   domain.NewEventID(),
		Vector:    []float64{120, 6, 2, 3, 3, 1, 0.91, 1},
		Version:   event.NormalizationVersion,
		CreatedAt: time.Now().UTC(),
	}
}

func scoringServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Score(t *testing.T) {
	t.Run("returns score and decision from the service", func(t *testing.T) {
		srv := scoringServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)

			var req struct {
				EventID string    `json:"event_id"`
				Vector  []float64 `json:"vector"`
				Version int       `json:"version"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.NotEmpty(t, req.EventID)
			assert.Len(t, req.Vector, 8)
			assert.Equal(t, event.NormalizationVersion, req.Version)

			json.NewEncoder(w).Encode(map[string]any{
				"score":     0.92,
				"threshold": 0.8,
				"decision":  "alert",
			})
		})

		client := inference.New(srv.URL, time.Second, testLogger())
		rec := testRecord()

		score, err := client.Score(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, rec.EventID, score.EventID)
		assert.InDelta(t, 0.92, score.Score, 1e-9)
		assert.InDelta(t, 0.8, score.Threshold, 1e-9)
		assert.Equal(t, event.DecisionAlert, score.Decision)
	})

	t.Run("derives decision from threshold when omitted", func(t *testing.T) {
		srv := scoringServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"score":     0.3,
				"threshold": 0.8,
			})
		})

		client := inference.New(srv.URL, time.Second, testLogger())

		score, err := client.Score(context.Background(), testRecord())
		require.NoError(t, err)
		assert.Equal(t, event.DecisionBenign, score.Decision)
	})

	t.Run("timeout is transient", func(t *testing.T) {
		srv := scoringServer(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		})

		client := inference.New(srv.URL, 20*time.Millisecond, testLogger())

		_, err := client.Score(context.Background(), testRecord())
		require.Error(t, err)
		assert.True(t, dErrors.Transient(err))
	})

	t.Run("connection refused is transient", func(t *testing.T) {
		client := inference.New("http://127.0.0.1:1", 200*time.Millisecond, testLogger())

		_, err := client.Score(context.Background(), testRecord())
		require.Error(t, err)
		assert.True(t, dErrors.Transient(err))
	})

	t.Run("5xx is transient", func(t *testing.T) {
		srv := scoringServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		client := inference.New(srv.URL, time.Second, testLogger())

		_, err := client.Score(context.Background(), testRecord())
		require.Error(t, err)
		assert.True(t, dErrors.Transient(err))
	})

	t.Run("4xx is permanent", func(t *testing.T) {
		srv := scoringServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		})

		client := inference.New(srv.URL, time.Second, testLogger())

		_, err := client.Score(context.Background(), testRecord())
		require.Error(t, err)
		assert.False(t, dErrors.Transient(err))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})

	t.Run("out of range score is permanent", func(t *testing.T) {
		srv := scoringServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"score":     1.7,
				"threshold": 0.8,
			})
		})

		client := inference.New(srv.URL, time.Second, testLogger())

		_, err := client.Score(context.Background(), testRecord())
		require.Error(t, err)
		assert.False(t, dErrors.Transient(err))
	})

	t.Run("response truncated mid-body is transient", func(t *testing.T) {
		srv := scoringServer(t, func(w http.ResponseWriter, r *http.Request) {
			// Advertise more bytes than get written; the connection drops
			// mid-body and the client's read fails, which must be retryable
			// like any other connection failure.
			w.Header().Set("Content-Length", "512")
			w.Write([]byte(`{"score":0.9`))
		})

		client := inference.New(srv.URL, time.Second, testLogger())

		_, err := client.Score(context.Background(), testRecord())
		require.Error(t, err)
		assert.True(t, dErrors.Transient(err))
	})

	t.Run("malformed response body is permanent", func(t *testing.T) {
		srv := scoringServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		})

		client := inference.New(srv.URL, time.Second, testLogger())

		_, err := client.Score(context.Background(), testRecord())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func TestClient_Breaker(t *testing.T) {
	t.Run("open breaker fails fast between probes", func(t *testing.T) {
		var hits int
		srv := scoringServer(t, func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		breaker := circuit.New("inference", circuit.WithFailureThreshold(2))
		client := inference.New(srv.URL, time.Second, testLogger(),
			inference.WithBreaker(breaker),
			inference.WithProbeInterval(time.Hour),
		)

		for i := 0; i < 2; i++ {
			_, err := client.Score(context.Background(), testRecord())
			require.Error(t, err)
		}
		require.True(t, breaker.IsOpen())

		// The first call after opening is the probe; it still reaches
		// the endpoint and fails.
		_, err := client.Score(context.Background(), testRecord())
		require.Error(t, err)

		// Further calls are rejected without touching the endpoint.
		before := hits
		for i := 0; i < 5; i++ {
			_, err := client.Score(context.Background(), testRecord())
			require.Error(t, err)
			assert.True(t, dErrors.Transient(err))
		}
		assert.Equal(t, before, hits)
	})

	t.Run("probe closes the breaker once the service recovers", func(t *testing.T) {
		healthy := false
		srv := scoringServer(t, func(w http.ResponseWriter, r *http.Request) {
			if !healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"score":     0.1,
				"threshold": 0.8,
				"decision":  "benign",
			})
		})

		breaker := circuit.New("inference",
			circuit.WithFailureThreshold(1),
			circuit.WithSuccessThreshold(1),
		)
		client := inference.New(srv.URL, time.Second, testLogger(),
			inference.WithBreaker(breaker),
			inference.WithProbeInterval(0),
		)

		_, err := client.Score(context.Background(), testRecord())
		require.Error(t, err)
		require.True(t, breaker.IsOpen())

		healthy = true

		score, err := client.Score(context.Background(), testRecord())
		require.NoError(t, err)
		assert.Equal(t, event.DecisionBenign, score.Decision)
		assert.False(t, breaker.IsOpen())
	})
}
