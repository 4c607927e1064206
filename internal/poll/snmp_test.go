package poll

import (
	"testing"

	"github.com/gosnmp/gosnmp"
)

func TestParseSNMPAddress(t *testing.T) {
	addr, err := parseSNMPAddress("snmp://private@switch-1:1161")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr.host != "switch-1" || addr.port != 1161 || addr.community != "private" {
		t.Errorf("got %+v", addr)
	}

	addr, err = parseSNMPAddress("snmp://switch-2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr.port != defaultSNMPPort || addr.community != defaultSNMPCommunity {
		t.Errorf("defaults: got %+v", addr)
	}

	if _, err := parseSNMPAddress("snmp://switch-3:notaport"); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestPDUValue(t *testing.T) {
	cases := []struct {
		pdu  gosnmp.SnmpPDU
		want any
		ok   bool
	}{
		{gosnmp.SnmpPDU{Type: gosnmp.Integer, Value: 7}, int64(7), true},
		{gosnmp.SnmpPDU{Type: gosnmp.Counter32, Value: uint(4000000000)}, int64(4000000000), true},
		{gosnmp.SnmpPDU{Type: gosnmp.Counter64, Value: uint64(1) << 63}, float64(1 << 63), true},
		{gosnmp.SnmpPDU{Type: gosnmp.TimeTicks, Value: uint32(123456)}, int64(123456), true},
		{gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte("Linux switch-1")}, "Linux switch-1", true},
		{gosnmp.SnmpPDU{Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.4.1.8072"}, "1.3.6.1.4.1.8072", true},
		{gosnmp.SnmpPDU{Type: gosnmp.IPAddress, Value: "10.0.0.1"}, "10.0.0.1", true},
		{gosnmp.SnmpPDU{Type: gosnmp.NoSuchObject}, nil, false},
		{gosnmp.SnmpPDU{Type: gosnmp.Null}, nil, false},
	}

	for _, tc := range cases {
		got, ok := pduValue(tc.pdu)
		if ok != tc.ok {
			t.Errorf("%v: ok got %v, want %v", tc.pdu.Type, ok, tc.ok)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("%v: got %v (%T), want %v (%T)", tc.pdu.Type, got, got, tc.want, tc.want)
		}
	}
}

func TestSNMPRoot(t *testing.T) {
	if got := snmpRoot("*:*"); got != defaultSNMPRoot {
		t.Errorf("default scope: got %s", got)
	}
	if got := snmpRoot(".1.3.6.1.2.1.2"); got != "1.3.6.1.2.1.2" {
		t.Errorf("explicit scope: got %s", got)
	}
}
