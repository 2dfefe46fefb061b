package monitor

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	remoteCmds
	cpuCmds
	dataCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Talking to the remote debugger", remoteCmds},
	{"Inspecting CPUs and registers", cpuCmds},
	{"Viewing memory and symbols", dataCmds},
	{"Other commands", otherCmds},
}
