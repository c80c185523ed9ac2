package analyzer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDNS(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: 60}
		switch {
		case q.Name == "gone.example.":
			m.Rcode = dns.RcodeNameError
		case q.Qtype == dns.TypeMX && q.Name == "mail.example.":
			m.Answer = append(m.Answer, &dns.MX{Hdr: hdr, Preference: 10, Mx: "mx.mail.example."})
		case q.Qtype == dns.TypeA:
			m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: net.ParseIP("192.0.2.10")})
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestResolverExists(t *testing.T) {
	t.Parallel()

	r := NewResolver([]string{startDNS(t)}, time.Second)
	ctx := context.Background()

	ok, err := r.Exists(ctx, "acme.example")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Exists(ctx, "gone.example")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.Exists(ctx, "127.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolverHasMX(t *testing.T) {
	t.Parallel()

	r := NewResolver([]string{startDNS(t)}, time.Second)

	ok, err := r.HasMX(context.Background(), "mail.example")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.HasMX(context.Background(), "acme.example")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolverWithoutAnswerIsNotNXDOMAIN(t *testing.T) {
	t.Parallel()

	r := NewResolver([]string{"127.0.0.1:1"}, 200*time.Millisecond)
	ok, err := r.Exists(context.Background(), "acme.example")
	require.Error(t, err)
	assert.True(t, ok)
}
