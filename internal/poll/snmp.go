package poll

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"scanrelay/internal/measurement"
	"scanrelay/internal/scanconfig"
)

const (
	defaultSNMPPort      = 161
	defaultSNMPCommunity = "public"
	defaultSNMPRoot      = "1.3.6.1.2.1.1" // system group
	defaultSNMPTimeout   = 5 * time.Second
)

// SNMPPoller walks the subtree named by the target scope over SNMP v2c.
// Addresses take the form snmp://community@host:port.
type SNMPPoller struct {
	Timeout        time.Duration
	Retries        int
	MaxRepetitions uint32
}

type snmpAddress struct {
	host      string
	port      uint16
	community string
}

// Poll implements Task.
func (p *SNMPPoller) Poll(ctx context.Context, target scanconfig.Target) (measurement.Measurement, error) {
	addr, err := parseSNMPAddress(target.Address)
	if err != nil {
		return measurement.Measurement{}, failure(target, "%v", err)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultSNMPTimeout
	}

	client := &gosnmp.GoSNMP{
		Target:         addr.host,
		Port:           addr.port,
		Community:      addr.community,
		Version:        gosnmp.Version2c,
		Timeout:        timeout,
		Retries:        p.Retries,
		MaxRepetitions: p.MaxRepetitions,
		Context:        ctx,
	}
	if client.MaxRepetitions == 0 {
		client.MaxRepetitions = 25
	}

	if err := client.Connect(); err != nil {
		return measurement.Measurement{}, failure(target, "connecting to %s: %v", addr.host, err)
	}
	defer client.Conn.Close()

	root := snmpRoot(target.Scope)
	m := Build(target, addr.host, root, time.Now(), nil)

	err = client.BulkWalk(root, func(pdu gosnmp.SnmpPDU) error {
		if v, ok := pduValue(pdu); ok {
			m.Fields[strings.TrimPrefix(pdu.Name, ".")] = v
		}
		return nil
	})
	if err != nil {
		return measurement.Measurement{}, failure(target, "walking %s: %v", root, err)
	}
	return m, nil
}

func snmpRoot(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" || scope == "*" || scope == scanconfig.DefaultScope {
		return defaultSNMPRoot
	}
	return strings.TrimPrefix(scope, ".")
}

func parseSNMPAddress(raw string) (snmpAddress, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return snmpAddress{}, fmt.Errorf("invalid snmp address %q: %w", raw, err)
	}
	if u.Scheme != SchemeSNMP {
		return snmpAddress{}, fmt.Errorf("invalid snmp address %q: scheme must be snmp", raw)
	}

	addr := snmpAddress{
		host:      u.Hostname(),
		port:      defaultSNMPPort,
		community: defaultSNMPCommunity,
	}
	if addr.host == "" {
		return snmpAddress{}, fmt.Errorf("invalid snmp address %q: missing host", raw)
	}
	if u.User != nil && u.User.Username() != "" {
		addr.community = u.User.Username()
	}
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return snmpAddress{}, fmt.Errorf("invalid snmp port %q: %w", p, err)
		}
		addr.port = uint16(n)
	}
	return addr, nil
}

// pduValue converts a PDU to a field value. Non-scalar and missing values are
// skipped.
func pduValue(pdu gosnmp.SnmpPDU) (any, bool) {
	switch pdu.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.Counter64,
		gosnmp.TimeTicks, gosnmp.Uinteger32:
		return bigValue(gosnmp.ToBigInt(pdu.Value))
	case gosnmp.OctetString:
		b, ok := pdu.Value.([]byte)
		if !ok {
			return nil, false
		}
		return string(b), true
	case gosnmp.IPAddress, gosnmp.ObjectIdentifier:
		s, ok := pdu.Value.(string)
		if !ok {
			return nil, false
		}
		if ip := net.ParseIP(s); ip != nil {
			return ip.String(), true
		}
		return strings.TrimPrefix(s, "."), true
	default:
		return nil, false
	}
}

func bigValue(n *big.Int) (any, bool) {
	if n == nil {
		return nil, false
	}
	if n.IsInt64() {
		return n.Int64(), true
	}
	f, _ := new(big.Float).SetInt(n).Float64()
	return f, true
}
