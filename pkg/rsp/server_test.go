package rsp

import (
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// fakeTarget records every adapter call so the tests can assert on
// side effects.
type fakeTarget struct {
	gprs [NumGPRs]uint32
	csrs map[uint16]uint32
	mem  map[uint32]uint32

	chipErases   int
	sectorErases []uint32
	pageErases   []uint32

	programs     int
	lastPageBase uint32
	lastPage     []uint32

	failMem bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		csrs: map[uint16]uint32{},
		mem:  map[uint32]uint32{},
	}
}

func (f *fakeTarget) GetGPR(i int) (uint32, error) {
	if i < 0 || i >= NumGPRs {
		return 0, fmt.Errorf("gpr %d out of range", i)
	}
	return f.gprs[i], nil
}

func (f *fakeTarget) SetGPR(i int, v uint32) error {
	if i < 0 || i >= NumGPRs {
		return fmt.Errorf("gpr %d out of range", i)
	}
	f.gprs[i] = v
	return nil
}

func (f *fakeTarget) GetCSR(id uint16) (uint32, error) { return f.csrs[id], nil }
func (f *fakeTarget) SetCSR(id uint16, v uint32) error { f.csrs[id] = v; return nil }

func (f *fakeTarget) GetMem(addr uint32) (uint32, error) {
	if f.failMem {
		return 0, fmt.Errorf("bus fault at %#x", addr)
	}
	return f.mem[addr], nil
}

func (f *fakeTarget) SetMem(addr uint32, v uint32) error {
	if f.failMem {
		return fmt.Errorf("bus fault at %#x", addr)
	}
	f.mem[addr] = v
	return nil
}

func (f *fakeTarget) GetBlock(addr uint32, out []uint32) error {
	for i := range out {
		out[i] = f.mem[addr+uint32(i)*4]
	}
	return nil
}

func (f *fakeTarget) WipeChip() error {
	f.chipErases++
	return nil
}

func (f *fakeTarget) WipeSector(addr uint32) error {
	f.sectorErases = append(f.sectorErases, addr)
	return nil
}

func (f *fakeTarget) WipePage(addr uint32) error {
	f.pageErases = append(f.pageErases, addr)
	return nil
}

func (f *fakeTarget) WriteFlash(pageBase uint32, data []uint32) error {
	f.programs++
	f.lastPageBase = pageBase
	f.lastPage = append([]uint32(nil), data...)
	return nil
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEndpoint() (*Endpoint, *fakeTarget) {
	ft := newFakeTarget()
	return NewEndpoint(ft, testLogger()), ft
}

// frame encodes a body the way GDB would put it on the wire: reserved
// bytes escaped, checksum over the escaped bytes.
func frame(body []byte) []byte {
	out := []byte{'$'}
	var cs uint8
	for _, b := range body {
		if b == '#' || b == '$' || b == '}' || b == '*' {
			out = append(out, '}', b^0x20)
			cs += '}' + (b ^ 0x20)
			continue
		}
		out = append(out, b)
		cs += b
	}
	return append(out, '#', toHex(cs>>4), toHex(cs))
}

// feed pushes raw wire bytes through the endpoint and returns
// everything it emitted.
func feed(e *Endpoint, wire []byte) []byte {
	var out []byte
	for _, b := range wire {
		if ob, ok := e.Tick(b, true); ok {
			out = append(out, ob)
		}
		for {
			ob, ok := e.Tick(0, false)
			if !ok {
				break
			}
			out = append(out, ob)
		}
	}
	return out
}

// exchange runs one full command/reply/ack cycle and returns the
// unescaped reply body. An empty reply frame comes back as "".
func exchange(t *testing.T, e *Endpoint, body string) string {
	t.Helper()

	out := feed(e, frame([]byte(body)))
	if len(out) == 0 || out[0] != '+' {
		t.Fatalf("exchange %q: no ack, got %q", body, out)
	}
	reply := decodeReply(t, body, out[1:])
	// Complete the cycle so the next exchange starts clean.
	feed(e, []byte{'+'})
	return reply
}

func decodeReply(t *testing.T, body string, raw []byte) string {
	t.Helper()

	if len(raw) < 4 || raw[0] != '$' || raw[len(raw)-3] != '#' {
		t.Fatalf("exchange %q: malformed reply %q", body, raw)
	}
	payload := raw[1 : len(raw)-3]

	var cs uint8
	for _, b := range payload {
		cs += b
	}
	wantCS := string([]byte{toHex(cs >> 4), toHex(cs)})
	if gotCS := string(raw[len(raw)-2:]); gotCS != wantCS {
		t.Fatalf("exchange %q: reply checksum %s, want %s", body, gotCS, wantCS)
	}

	var decoded []byte
	for i := 0; i < len(payload); i++ {
		if payload[i] == '}' {
			i++
			decoded = append(decoded, payload[i]^0x20)
			continue
		}
		decoded = append(decoded, payload[i])
	}
	return string(decoded)
}

func TestHaltReasonReply(t *testing.T) {
	e, _ := newTestEndpoint()

	out := feed(e, []byte("$?#3f"))
	if got, want := string(out), "+$T02#b6"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	feed(e, []byte{'+'})
}

func TestQueryReplies(t *testing.T) {
	e, _ := newTestEndpoint()

	cases := []struct {
		body string
		want string
	}{
		{"qSupported:multiprocess+;swbreak+", "PacketSize=32768;qXfer:memory-map:read+"},
		{"qAttached", "1"},
		{"qC", "QC0"},
		{"qfThreadInfo", "m0"},
		{"qsThreadInfo", "l"},
		{"qRcmd,7265736574", ""},
		{"qXfer:memory-map:read::0,7ff", "l" + memoryMapXML},
		{"qXfer:memory-map:read::zz", "E00"},
		{"qXfer:features:read:target.xml:0,7ff", ""},
	}
	for _, tc := range cases {
		if got := exchange(t, e, tc.body); got != tc.want {
			t.Errorf("%q: got %q, want %q", tc.body, got, tc.want)
		}
	}
}

func TestSimpleCommands(t *testing.T) {
	e, _ := newTestEndpoint()

	cases := []struct {
		body string
		want string
	}{
		{"!", "OK"},
		{"c", ""},
		{"s", ""},
		{"D", "OK"},
		{"G" + "00000000", ""},
		{"R0", ""},
		{"Hg0", "OK"},
		{"Hc-1", "OK"},
		{"Hgz", "E01"},
		{"vCont;c", ""},
		{"vKill;1", "OK"},
		{"vMustReplyEmpty", ""},
		{"Z0,100,2", ""},
	}
	for _, tc := range cases {
		if got := exchange(t, e, tc.body); got != tc.want {
			t.Errorf("%q: got %q, want %q", tc.body, got, tc.want)
		}
	}
}

func TestReadAllRegisters(t *testing.T) {
	e, ft := newTestEndpoint()
	for i := 0; i < NumGPRs; i++ {
		ft.gprs[i] = uint32(i)
	}
	ft.csrs[CSRDPC] = 0xDEADBEEF

	got := exchange(t, e, "g")
	if len(got) != 17*8 {
		t.Fatalf("g reply has %d hex chars, want %d", len(got), 17*8)
	}
	if got[:8] != "00000000" || got[8:16] != "01000000" {
		t.Errorf("first registers not little-endian: %q", got[:16])
	}
	if dpc := got[16*8:]; dpc != "efbeadde" {
		t.Errorf("dpc = %q, want %q", dpc, "efbeadde")
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	e, ft := newTestEndpoint()

	if got := exchange(t, e, "P5=efbeadde"); got != "OK" {
		t.Fatalf("P reply %q", got)
	}
	if ft.gprs[5] != 0xDEADBEEF {
		t.Fatalf("gpr5 = %#x, want 0xdeadbeef", ft.gprs[5])
	}
	if got := exchange(t, e, "p5"); got != "efbeadde" {
		t.Fatalf("p reply %q, want %q", got, "efbeadde")
	}

	// Register 16 is the DPC.
	if got := exchange(t, e, "P10=78563412"); got != "OK" {
		t.Fatalf("P10 reply %q", got)
	}
	if ft.csrs[CSRDPC] != 0x12345678 {
		t.Fatalf("dpc = %#x, want 0x12345678", ft.csrs[CSRDPC])
	}
	if got := exchange(t, e, "p10"); got != "78563412" {
		t.Fatalf("p10 reply %q", got)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	e, ft := newTestEndpoint()

	if got := exchange(t, e, "M20000000,4:efbeadde"); got != "OK" {
		t.Fatalf("M reply %q", got)
	}
	if ft.mem[0x20000000] != 0xDEADBEEF {
		t.Fatalf("mem = %#x", ft.mem[0x20000000])
	}
	if got := exchange(t, e, "m20000000,4"); got != "efbeadde" {
		t.Fatalf("m reply %q", got)
	}
}

func TestMemoryBlockRead(t *testing.T) {
	e, ft := newTestEndpoint()
	ft.mem[0x100] = 0x11111111
	ft.mem[0x104] = 0x22222222

	if got := exchange(t, e, "m100,8"); got != "1111111122222222" {
		t.Fatalf("m reply %q", got)
	}
}

func TestMemoryWriteRejections(t *testing.T) {
	e, ft := newTestEndpoint()

	// Unaligned length and address give the empty reply with no writes.
	if got := exchange(t, e, "M20000000,3:aabbcc"); got != "" {
		t.Fatalf("unaligned length reply %q", got)
	}
	if got := exchange(t, e, "M20000001,4:aabbccdd"); got != "" {
		t.Fatalf("unaligned address reply %q", got)
	}
	// A malformed data word is a parse error with no writes.
	if got := exchange(t, e, "M20000000,4:zzzzzzzz"); got != "E00" {
		t.Fatalf("bad data reply %q", got)
	}
	if len(ft.mem) != 0 {
		t.Fatalf("rejected writes reached the target: %v", ft.mem)
	}
}

func TestParseErrorYieldsE00(t *testing.T) {
	e, _ := newTestEndpoint()

	if got := exchange(t, e, "m,4"); got != "E00" {
		t.Fatalf("got %q, want E00", got)
	}
}

func TestKillHasNoReply(t *testing.T) {
	e, _ := newTestEndpoint()

	out := feed(e, frame([]byte("k")))
	if got := string(out); got != "+" {
		t.Fatalf("kill produced output %q, want ack only", got)
	}
	// The next command must be processed normally.
	if got := exchange(t, e, "!"); got != "OK" {
		t.Fatalf("post-kill exchange got %q", got)
	}
}

func TestInterruptByteBetweenFrames(t *testing.T) {
	e, _ := newTestEndpoint()

	out := feed(e, []byte{0x03})
	if got, want := string(out), "$OK#9a"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	feed(e, []byte{'+'})
}

func TestTargetFaultStillAnswersOK(t *testing.T) {
	e, ft := newTestEndpoint()
	ft.failMem = true

	// Faults are logged, not surfaced: the reply stays OK.
	if got := exchange(t, e, "M20000000,4:efbeadde"); got != "OK" {
		t.Fatalf("got %q, want OK", got)
	}
}
