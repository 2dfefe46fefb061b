package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abc"}
	if got := v.String(); got != "Version: 1.2.3-rc1\nBuild: abc" {
		t.Fatalf("got %q", got)
	}
	v.Metadata = ""
	if got := v.String(); !strings.HasPrefix(got, "Version: 1.2.3\n") {
		t.Fatalf("got %q", got)
	}
}

func TestBuildInfo(t *testing.T) {
	if !strings.HasPrefix(BuildInfo(), runtime.Version()+"\n") {
		t.Fatalf("got %q", BuildInfo())
	}
}

func TestFormatBuildInfo(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/go-delve/kdstub", Version: "(devel)"},
		Deps: []*debug.Module{
			{Path: "github.com/spf13/cobra", Version: "v1.1.3"},
			{Path: "github.com/tarm/serial", Version: "v0.0.0-20180830185346-98f6abe2eb07"},
			{Path: "go.starlark.net", Version: "v0.0.1", Replace: &debug.Module{Path: "../starlark", Version: ""}},
		},
	}
	got := formatBuildInfo(info)
	for _, want := range []string{
		"kdstub\tgithub.com/go-delve/kdstub\t(devel)\n",
		"transport serial\tgithub.com/tarm/serial@v0.0.0-20180830185346-98f6abe2eb07\n",
		"transport pty\tmissing\n",
		"scripting\tgo.starlark.net@v0.0.1 => ../starlark@\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("build info does not contain %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "cobra") {
		t.Fatalf("build info reports a module that is not a feature:\n%s", got)
	}
}
