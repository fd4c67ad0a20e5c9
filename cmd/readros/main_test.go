package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/buaaliyuan/readros/internal/bag"
)

func writeTestBag(t *testing.T, path string, topics []string, times []bag.Time, payloads []string) {
	t.Helper()
	b, err := bag.Create(path, bag.Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	desc := bag.MessageDescriptor{Type: "std_msgs/String", MD5Sum: "m", MessageDefinition: "string data"}
	for i := range topics {
		if err := b.Write(topics[i], times[i], []byte(payloads[i]), desc, nil); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRunInfoReportsConnectionsAndChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.bag")
	writeTestBag(t, path, []string{"/a", "/b", "/a"},
		[]bag.Time{{Sec: 1}, {Sec: 2}, {Sec: 3}}, []string{"a1", "b1", "a2"})

	if err := runInfo(path); err != nil {
		t.Fatalf("runInfo: %v", err)
	}
}

func TestRunListTopicsRejectsMissingFile(t *testing.T) {
	if err := runListTopics(filepath.Join(t.TempDir(), "missing.bag")); err == nil {
		t.Fatal("expected an error opening a nonexistent bag")
	}
}

func TestRunDumpFiltersByTopicAndTimeWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.bag")
	writeTestBag(t, path, []string{"/a", "/b", "/a", "/a"},
		[]bag.Time{{Sec: 1}, {Sec: 2}, {Sec: 3}, {Sec: 4}},
		[]string{"a1", "b1", "a2", "a3"})

	if err := runDump(context.Background(), []string{path}, dumpOptions{Topic: "/a"}); err != nil {
		t.Fatalf("runDump topic filter: %v", err)
	}
	if err := runDump(context.Background(), []string{path}, dumpOptions{StartTime: "2", EndTime: "3"}); err != nil {
		t.Fatalf("runDump time window: %v", err)
	}
}

func TestRunDumpRawRequiresExactlyOneMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.bag")
	writeTestBag(t, path, []string{"/a", "/a"}, []bag.Time{{Sec: 1}, {Sec: 2}}, []string{"x", "y"})

	if err := runDump(context.Background(), []string{path}, dumpOptions{Raw: true}); err == nil {
		t.Fatal("expected --raw to reject more than one matching message")
	}
	if err := runDump(context.Background(), []string{path}, dumpOptions{Raw: true, Topic: "/a", StartTime: "1", EndTime: "1"}); err != nil {
		t.Fatalf("runDump raw single message: %v", err)
	}
}

func TestRunVerifyPassesOnAHealthyBag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verify.bag")
	writeTestBag(t, path, []string{"/a", "/a"}, []bag.Time{{Sec: 1}, {Sec: 2}}, []string{"x", "y"})

	if err := runVerify(path); err != nil {
		t.Fatalf("runVerify: %v", err)
	}
}

func TestParseCLITimeAcceptsSecondsAndFractional(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want bag.Time
	}{
		{"5", bag.Time{Sec: 5}},
		{"5.250", bag.Time{Sec: 5, Nsec: 250}},
	} {
		got, err := parseCLITime(tc.in)
		if err != nil {
			t.Fatalf("parseCLITime(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseCLITime(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}
