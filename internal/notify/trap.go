package notify

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"codeberg.org/mutker/domwatch/internal/errors"
	"codeberg.org/mutker/domwatch/internal/logger"
	"github.com/gosnmp/gosnmp"
)

const (
	// EnterpriseOID is iso.org.dod.internet.private.enterprises.arista.
	EnterpriseOID = ".1.3.6.1.4.1.30065"
	// MessageOID carries the notification text.
	MessageOID = EnterpriseOID + ".6"

	sysUpTimeOID = ".1.3.6.1.2.1.1.3.0"
	snmpTrapOID  = ".1.3.6.1.6.3.1.1.4.1.0"

	maskedSecret = "********"
)

const (
	Version2c = "2c"
	Version3  = "3"

	SecLevelNoAuthNoPriv = "noAuthNoPriv"
	SecLevelAuthNoPriv   = "authNoPriv"
	SecLevelAuthPriv     = "authPriv"
)

// TrapConfig selects the trap destination and SNMP security settings.
type TrapConfig struct {
	Host         string `mapstructure:"host" toml:"host"`
	Port         int    `mapstructure:"port" toml:"port"`
	Version      string `mapstructure:"version" toml:"version"`
	Community    string `mapstructure:"community" toml:"community"`
	SecName      string `mapstructure:"secname" toml:"secname"`
	SecLevel     string `mapstructure:"seclevel" toml:"seclevel"`
	AuthProtocol string `mapstructure:"authprotocol" toml:"authprotocol"`
	AuthPassword string `mapstructure:"authpassword" toml:"authpassword"`
	PrivProtocol string `mapstructure:"privprotocol" toml:"privprotocol"`
	PrivPassword string `mapstructure:"privpassword" toml:"privpassword"`
	// Timeout bounds each send, in seconds.
	Timeout int `mapstructure:"timeout" toml:"timeout"`
}

func DefaultTrapConfig() TrapConfig {
	return TrapConfig{
		Host:         "localhost",
		Port:         162,
		Version:      Version3,
		Community:    "public",
		SecName:      "eosplus",
		SecLevel:     SecLevelAuthPriv,
		AuthProtocol: "MD5",
		PrivProtocol: "DES",
		Timeout:      5,
	}
}

func (c TrapConfig) Validate() error {
	errFactory := errors.New()

	if c.Host == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "trap.host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("trap.port out of range: %d", c.Port))
	}
	if c.Timeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("trap.timeout must be positive: %d", c.Timeout))
	}

	switch c.Version {
	case Version2c:
		return nil
	case Version3:
	default:
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("unknown snmp version %q", c.Version))
	}

	if _, err := c.msgFlags(); err != nil {
		return err
	}
	if _, err := c.authProtocol(); err != nil {
		return err
	}
	if _, err := c.privProtocol(); err != nil {
		return err
	}

	return nil
}

func (c TrapConfig) msgFlags() (gosnmp.SnmpV3MsgFlags, error) {
	switch c.SecLevel {
	case SecLevelNoAuthNoPriv:
		return gosnmp.NoAuthNoPriv, nil
	case SecLevelAuthNoPriv:
		return gosnmp.AuthNoPriv, nil
	case SecLevelAuthPriv:
		return gosnmp.AuthPriv, nil
	default:
		return 0, errors.New().WithData(errors.ErrInvalidConfig, fmt.Sprintf("unknown trap.seclevel %q", c.SecLevel))
	}
}

func (c TrapConfig) authProtocol() (gosnmp.SnmpV3AuthProtocol, error) {
	if c.SecLevel == SecLevelNoAuthNoPriv {
		return gosnmp.NoAuth, nil
	}

	switch c.AuthProtocol {
	case "MD5":
		return gosnmp.MD5, nil
	case "SHA":
		return gosnmp.SHA, nil
	default:
		return gosnmp.NoAuth, errors.New().WithData(errors.ErrInvalidConfig,
			fmt.Sprintf("unknown trap.authprotocol %q", c.AuthProtocol))
	}
}

func (c TrapConfig) privProtocol() (gosnmp.SnmpV3PrivProtocol, error) {
	if c.SecLevel != SecLevelAuthPriv {
		return gosnmp.NoPriv, nil
	}

	switch c.PrivProtocol {
	case "DES":
		return gosnmp.DES, nil
	case "AES":
		return gosnmp.AES, nil
	default:
		return gosnmp.NoPriv, errors.New().WithData(errors.ErrInvalidConfig,
			fmt.Sprintf("unknown trap.privprotocol %q", c.PrivProtocol))
	}
}

// Trap sends alerts as enterprise-specific SNMP notifications: a v2c trap,
// or a v3 inform that the receiver acknowledges. Notifications below
// SeverityWarning are not sent.
type Trap struct {
	cfg TrapConfig
}

func NewTrap(cfg TrapConfig) (*Trap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Trap{cfg: cfg}, nil
}

// client builds a fresh session; v3 security state is per session.
func (t *Trap) client(ctx context.Context) *gosnmp.GoSNMP {
	c := t.cfg
	client := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    c.Host,
		Port:      uint16(c.Port),
		Transport: "udp",
		Community: c.Community,
		Version:   gosnmp.Version2c,
		Timeout:   time.Duration(c.Timeout) * time.Second,
		Retries:   1,
		MaxOids:   gosnmp.MaxOids,
	}

	if c.Version == Version3 {
		flags, _ := c.msgFlags()
		auth, _ := c.authProtocol()
		priv, _ := c.privProtocol()

		client.Version = gosnmp.Version3
		client.SecurityModel = gosnmp.UserSecurityModel
		client.MsgFlags = flags
		client.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 c.SecName,
			AuthenticationProtocol:   auth,
			AuthenticationPassphrase: c.AuthPassword,
			PrivacyProtocol:          priv,
			PrivacyPassphrase:        c.PrivPassword,
		}
	}

	return client
}

// PDU builds the notification payload for message and device uptime.
func PDU(message string, uptime int64, inform bool) gosnmp.SnmpTrap {
	return gosnmp.SnmpTrap{
		Variables: []gosnmp.SnmpPDU{
			{Name: sysUpTimeOID, Type: gosnmp.TimeTicks, Value: uint32(uptime)},
			{Name: snmpTrapOID, Type: gosnmp.ObjectIdentifier, Value: EnterpriseOID},
			{Name: MessageOID, Type: gosnmp.OctetString, Value: message},
		},
		IsInform: inform,
	}
}

func (t *Trap) Notify(ctx context.Context, n Notification) error {
	if n.Severity < SeverityWarning {
		return nil
	}

	errFactory := errors.New()

	client := t.client(ctx)
	if err := client.Connect(); err != nil {
		return errFactory.Wrap(errors.ErrNotifyFailed, err).WithMessage("Failed to reach trap host")
	}
	defer func(conn net.Conn) {
		_ = conn.Close()
	}(client.Conn)

	logger.Debug().Str("target", net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))).
		Str("version", t.cfg.Version).Msg("Sending SNMP notification")

	if _, err := client.SendTrap(PDU(n.Message, n.Uptime, t.cfg.Version == Version3)); err != nil {
		return errFactory.Wrap(errors.ErrNotifyFailed, err)
	}

	return nil
}

// Args renders the equivalent net-snmp snmptrap invocation, without the
// uptime and message operands.
func (t *Trap) Args() []string {
	c := t.cfg
	args := []string{"snmptrap", "-v", c.Version}

	if c.Version == Version2c {
		args = append(args, "-c", maskedSecret)
	} else {
		args = append(args, "-Ci", "-l", c.SecLevel, "-u", c.SecName)
		if c.SecLevel == SecLevelAuthNoPriv || c.SecLevel == SecLevelAuthPriv {
			args = append(args, "-a", c.AuthProtocol, "-A", maskedSecret)
		}
		if c.SecLevel == SecLevelAuthPriv {
			args = append(args, "-x", c.PrivProtocol, "-X", maskedSecret)
		}
	}

	return append(args, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), EnterpriseOID, MessageOID, "s")
}

func (*Trap) Close() error {
	return nil
}
