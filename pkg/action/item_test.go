package action

import (
	"testing"

	"github.com/benkle-apps/sergio/pkg/sergioerr"
	"gopkg.in/yaml.v3"
)

func decodeFrame(t *testing.T, doc string) Frame {
	t.Helper()
	var frame Frame
	if err := yaml.Unmarshal([]byte(doc), &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return frame
}

func TestUnmarshalYAML_UntaggedScalarIsShell(t *testing.T) {
	frame := decodeFrame(t, `- "apt-get update"`)
	if len(frame) != 1 || frame[0].Kind != KindShell || frame[0].Shell != "apt-get update" {
		t.Fatalf("got %+v", frame)
	}
}

func TestUnmarshalYAML_IdleAndParentMarkers(t *testing.T) {
	frame := decodeFrame(t, "- !idle\n- !parent\n")
	if frame[0].Kind != KindIdleMarker {
		t.Fatalf("expected idle marker, got %+v", frame[0])
	}
	if frame[1].Kind != KindParentMarker {
		t.Fatalf("expected parent marker, got %+v", frame[1])
	}
}

func TestUnmarshalYAML_RPC(t *testing.T) {
	frame := decodeFrame(t, `- !rpc "db migrate version=12 dry=false"`)
	item := frame[0]
	if item.Kind != KindRPC {
		t.Fatalf("expected rpc kind, got %v", item.Kind)
	}
	if item.RPC.Target != "db" || item.RPC.Action != "migrate" {
		t.Fatalf("got %+v", item.RPC)
	}
	if item.RPC.Parameters["version"] != "12" || item.RPC.Parameters["dry"] != "false" {
		t.Fatalf("params: %+v", item.RPC.Parameters)
	}
}

func TestUnmarshalYAML_RPC_RequiresTargetAndAction(t *testing.T) {
	var frame Frame
	err := yaml.Unmarshal([]byte(`- !rpc "db"`), &frame)
	if err == nil {
		t.Fatal("expected an error for a single-token rpc line")
	}
}

func TestUnmarshalYAML_FileDrop_ShellStyleSplit(t *testing.T) {
	frame := decodeFrame(t, `- !df "chown=www:www chmod=0644 \"/etc/my app.conf\""`)
	item := frame[0].FileDrop
	if item.Chown != "www:www" || item.Chmod != "0644" {
		t.Fatalf("got %+v", item)
	}
	if item.Filename != "/etc/my app.conf" {
		t.Fatalf("expected quoted filename with a space preserved, got %q", item.Filename)
	}
}

func TestUnmarshalYAML_FileDrop_DefaultsOmitted(t *testing.T) {
	frame := decodeFrame(t, `- !df "/etc/app.conf"`)
	item := frame[0].FileDrop
	if item.Chown != "" || item.Chmod != "" {
		t.Fatalf("expected no chown/chmod override, got %+v", item)
	}
	if item.Filename != "/etc/app.conf" {
		t.Fatalf("got %q", item.Filename)
	}
}

func TestUnmarshalYAML_FileTransfer_Directions(t *testing.T) {
	cases := []struct {
		line string
		down bool
	}{
		{"d db /var/backup.zip /tmp/backup.zip", true},
		{"down db /var/backup.zip /tmp/backup.zip", true},
		{"< db /var/backup.zip /tmp/backup.zip", true},
		{"u db /tmp/backup.zip /var/backup.zip", false},
		{"up db /tmp/backup.zip /var/backup.zip", false},
		{"> db /tmp/backup.zip /var/backup.zip", false},
	}
	for _, tc := range cases {
		ft, err := parseFileTransfer(tc.line)
		if err != nil {
			t.Fatalf("%q: %v", tc.line, err)
		}
		if ft.Down != tc.down {
			t.Errorf("%q: got down=%v, want %v", tc.line, ft.Down, tc.down)
		}
		if ft.OtherID != "db" {
			t.Errorf("%q: got other id %q", tc.line, ft.OtherID)
		}
	}
}

func TestUnmarshalYAML_FileTransfer_BadDirection(t *testing.T) {
	_, err := parseFileTransfer("sideways db a b")
	if err == nil {
		t.Fatal("expected an error for an unrecognized direction")
	}
	if !sergioerr.Is(err, sergioerr.BadDirection) {
		t.Fatalf("expected a BadDirection error, got %v", err)
	}
}

func TestUnmarshalYAML_FileTransfer_WrongArity(t *testing.T) {
	_, err := parseFileTransfer("d db /only/source")
	if err == nil {
		t.Fatal("expected an error for a missing target path")
	}
}

func TestUnmarshalYAML_FileRemoveAndCwdAndEcho(t *testing.T) {
	frame := decodeFrame(t, "- !rm \"  /tmp/stale  \"\n- !cwd \"  /srv/app  \"\n- !echo \"hello $name\"\n")
	if frame[0].FileRemove.Filename != "/tmp/stale" {
		t.Fatalf("expected trimmed filename, got %q", frame[0].FileRemove.Filename)
	}
	if frame[1].WorkdirSet.Path != "/srv/app" {
		t.Fatalf("expected trimmed path, got %q", frame[1].WorkdirSet.Path)
	}
	if frame[2].Echo.Text != "hello $name" {
		t.Fatalf("echo text should not be trimmed or expanded at parse time, got %q", frame[2].Echo.Text)
	}
}
