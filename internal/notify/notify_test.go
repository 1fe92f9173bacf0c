package notify

import (
	"context"
	stderrors "errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/domwatch/internal/errors"
	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	got    []Notification
	err    error
	closed bool
}

func (r *recorder) Notify(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func (r *recorder) Args() []string { return []string{"recorder", "-x"} }

func (r *recorder) Close() error {
	r.closed = true
	return nil
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		sev  Severity
		want string
	}{
		{SeverityDebug, "DEBUG"},
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sev.String())
			parsed, ok := ParseSeverity(strings.ToLower(tt.want))
			assert.True(t, ok)
			assert.Equal(t, tt.sev, parsed)
		})
	}

	_, ok := ParseSeverity("critical")
	assert.False(t, ok)
}

func TestMultiDeliversToEverySink(t *testing.T) {
	failing := &recorder{err: stderrors.New("sink down")}
	ok := &recorder{}
	m := NewMulti(failing, ok)

	n := Notification{Message: "hello", Severity: SeverityWarning, Uptime: 42}
	err := m.Notify(context.Background(), n)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Equal(t, []Notification{n}, failing.got)
	assert.Equal(t, []Notification{n}, ok.got)

	assert.Equal(t, []string{"recorder -x", "recorder -x"}, m.Args())

	require.NoError(t, m.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}

func TestBuild(t *testing.T) {
	extra := &recorder{}
	m, err := Build(Options{Extra: []Notifier{extra}})
	require.NoError(t, err)
	assert.Equal(t, []string{"log", "recorder -x"}, m.Args())

	require.NoError(t, m.Notify(context.Background(), Notification{Message: "x", Severity: SeverityInfo}))
	assert.Len(t, extra.got, 1)

	bad := DefaultTrapConfig()
	bad.Version = "1"
	_, err = Build(Options{SNMP: true, Trap: bad})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestTrapConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*TrapConfig)
		valid  bool
	}{
		{"defaults", func(*TrapConfig) {}, true},
		{"v2c", func(c *TrapConfig) { c.Version = Version2c }, true},
		{"v1 rejected", func(c *TrapConfig) { c.Version = "1" }, false},
		{"auth sha aes", func(c *TrapConfig) { c.AuthProtocol = "SHA"; c.PrivProtocol = "AES" }, true},
		{"bad seclevel", func(c *TrapConfig) { c.SecLevel = "paranoid" }, false},
		{"bad auth", func(c *TrapConfig) { c.AuthProtocol = "CRC" }, false},
		{"bad priv", func(c *TrapConfig) { c.PrivProtocol = "ROT13" }, false},
		{"noauth ignores protocols", func(c *TrapConfig) {
			c.SecLevel = SecLevelNoAuthNoPriv
			c.AuthProtocol = ""
			c.PrivProtocol = ""
		}, true},
		{"port", func(c *TrapConfig) { c.Port = 0 }, false},
		{"host", func(c *TrapConfig) { c.Host = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTrapConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
			}
		})
	}
}

func TestTrapArgsMaskSecrets(t *testing.T) {
	cfg := DefaultTrapConfig()
	cfg.AuthPassword = "eosplus123"
	cfg.PrivPassword = "eosplus123"

	trap, err := NewTrap(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"snmptrap", "-v", "3", "-Ci", "-l", "authPriv", "-u", "eosplus",
		"-a", "MD5", "-A", maskedSecret, "-x", "DES", "-X", maskedSecret,
		"localhost:162", EnterpriseOID, MessageOID, "s",
	}, trap.Args())

	cfg.Version = Version2c
	cfg.Community = "private"
	trap, err = NewTrap(cfg)
	require.NoError(t, err)
	args := trap.Args()
	assert.Equal(t, []string{"snmptrap", "-v", "2c", "-c", maskedSecret}, args[:5])
	assert.NotContains(t, strings.Join(args, " "), "private")
}

func TestPDU(t *testing.T) {
	pdu := PDU("TRANSCEIVER_RX_POWER_CHANGE, Ethernet1", 1450179191, true)

	assert.True(t, pdu.IsInform)
	require.Len(t, pdu.Variables, 3)
	assert.Equal(t, gosnmp.TimeTicks, pdu.Variables[0].Type)
	assert.Equal(t, uint32(1450179191), pdu.Variables[0].Value)
	assert.Equal(t, EnterpriseOID, pdu.Variables[1].Value)
	assert.Equal(t, MessageOID, pdu.Variables[2].Name)
}

func freeUDPAddr(t *testing.T) string {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())
	return addr
}

func TestTrapV2cDelivery(t *testing.T) {
	addr := freeUDPAddr(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	received := make(chan *gosnmp.SnmpPacket, 1)
	tl := gosnmp.NewTrapListener()
	tl.Params = gosnmp.Default
	tl.OnNewTrap = func(p *gosnmp.SnmpPacket, _ *net.UDPAddr) {
		received <- p
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- tl.Listen(addr)
	}()
	select {
	case <-tl.Listening():
	case err := <-listenErr:
		t.Fatalf("trap listener: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("trap listener did not start")
	}
	defer tl.Close()

	cfg := DefaultTrapConfig()
	cfg.Version = Version2c
	cfg.Host = host
	cfg.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	trap, err := NewTrap(cfg)
	require.NoError(t, err)
	require.NoError(t, trap.Notify(context.Background(), Notification{
		Message:  "drift detected",
		Severity: SeverityWarning,
		Uptime:   1234,
	}))

	select {
	case p := <-received:
		var message string
		for _, v := range p.Variables {
			if v.Name == MessageOID {
				message = string(v.Value.([]byte))
			}
		}
		assert.Equal(t, "drift detected", message)
	case <-time.After(2 * time.Second):
		t.Fatal("no trap received")
	}
}

func TestSyslogDelivery(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	s, err := NewSyslog("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Notify(context.Background(), Notification{Message: "optic drift", Severity: SeverityWarning}))

	buf := make([]byte, 1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	line := string(buf[:n])
	assert.True(t, strings.HasPrefix(line, "<28>"), line)
	assert.Contains(t, line, syslogTag)
	assert.Contains(t, line, "optic drift")
	assert.Contains(t, s.Args(), "-n")
}
