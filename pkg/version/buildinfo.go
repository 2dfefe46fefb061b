package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

func init() {
	buildInfo = func() string {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return "not built in module mode"
		}
		return formatBuildInfo(info)
	}
}

// features maps the modules that decide what a kdstub binary can do to
// the feature they provide. Other dependencies are not reported.
var features = []struct {
	feature, path string
}{
	{"transport serial", "github.com/tarm/serial"},
	{"transport pty", "github.com/creack/pty"},
	{"prompt", "github.com/go-delve/liner"},
	{"scripting", "go.starlark.net"},
	{"disassembler", "golang.org/x/arch"},
	{"logging", "github.com/sirupsen/logrus"},
}

// formatBuildInfo reports the kdstub module and, for each feature, the
// version of the module implementing it or "missing".
func formatBuildInfo(info *debug.BuildInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "kdstub\t%s\t%s\n", info.Main.Path, info.Main.Version)
	for _, f := range features {
		ver := "missing"
		for _, dep := range info.Deps {
			if dep.Path != f.path {
				continue
			}
			ver = f.path + "@" + dep.Version
			if dep.Replace != nil {
				ver += " => " + dep.Replace.Path + "@" + dep.Replace.Version
			}
			break
		}
		fmt.Fprintf(&b, "%s\t%s\n", f.feature, ver)
	}
	return b.String()
}
