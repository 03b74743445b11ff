package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"vico_home/actorcast/internal/domain"
)

func TestPrometheusCollector_Counts(t *testing.T) {
	c := NewPrometheusCollector()

	c.PeerTransition(domain.RoleActor, domain.StatusConnected)
	c.PeerTransition(domain.RoleActor, domain.StatusConnected)
	c.Viewers(3)
	c.CredentialFetch(domain.ProvenanceFallback)
	c.SignalSent(domain.EventOffer)
	c.SignalReceived(domain.EventAnswer)
	c.SourceSwap(true)

	if got := testutil.ToFloat64(c.peerTransitions.WithLabelValues("actor", "connected")); got != 2 {
		t.Errorf("peer transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.viewers); got != 3 {
		t.Errorf("viewers = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.credentialFetch.WithLabelValues("error-fallback")); got != 1 {
		t.Errorf("credential fetches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.sourceSwaps.WithLabelValues("true")); got != 1 {
		t.Errorf("source swaps = %v, want 1", got)
	}
}

func TestPrometheusCollector_Handler(t *testing.T) {
	c := NewPrometheusCollector()
	c.SignalSent(domain.EventActorStreaming)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `actorcast_signal_sent_total{type="`+string(domain.EventActorStreaming)+`"} 1`) {
		t.Errorf("metric missing from output:\n%s", body)
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewPrometheusCollector(), NewPrometheusCollector()
	a.Viewers(5)
	if got := testutil.ToFloat64(b.viewers); got != 0 {
		t.Errorf("collectors share state: %v", got)
	}
}
