package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/wippyai/vfd/descriptor"
	"github.com/wippyai/vfd/errors"
)

// command is one parsed script line, e.g. "socket 0x1001".
type command struct {
	name string
	args []int64
	line int
}

// argCount lists the commands the script language accepts.
var argCount = map[string]int{
	"socket":   1,
	"unsocket": 1,
	"release":  1,
	"fd":       1,
	"unfd":     1,
	"lookup":   1,
	"info":     1,
	"flags":    2,
	"table":    0,
	"verify":   0,
}

// parseScript splits src on newlines and ';' and parses each command.
// Blank entries and '#' comments are skipped.
func parseScript(src string) ([]command, error) {
	var cmds []command
	for i, line := range strings.Split(src, "\n") {
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		for _, part := range strings.Split(line, ";") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			cmd, err := parseCommand(part)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			cmd.line = i + 1
			cmds = append(cmds, cmd)
		}
	}
	return cmds, nil
}

// readScript reads a whole script from r.
func readScript(r io.Reader) ([]command, error) {
	var b strings.Builder
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		b.WriteString(sc.Text())
		b.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, errors.ParseFailed("script", err)
	}
	return parseScript(b.String())
}

func parseCommand(s string) (command, error) {
	fields := strings.Fields(s)
	name := strings.ToLower(fields[0])

	want, ok := argCount[name]
	if !ok {
		return command{}, errors.Unsupported(errors.PhaseParse, fmt.Sprintf("command %q", fields[0]))
	}
	if len(fields)-1 != want {
		return command{}, errors.New(errors.PhaseParse, errors.KindInvalidInput).
			Path(name).
			Detail("expected %d argument(s), got %d", want, len(fields)-1).
			Build()
	}

	cmd := command{name: name}
	for _, f := range fields[1:] {
		v, err := parseNumber(name, f)
		if err != nil {
			return command{}, err
		}
		cmd.args = append(cmd.args, v)
	}
	return cmd, nil
}

// parseNumber accepts Go integer syntax. Socket handles are unsigned 64-bit
// values and are stored bit-for-bit in the int64.
func parseNumber(cmd, s string) (int64, error) {
	if cmd == "socket" || cmd == "unsocket" {
		u, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, errors.New(errors.PhaseParse, errors.KindInvalidInput).
				Path(cmd).
				Value(s).
				Cause(err).
				Detail("invalid socket handle").
				Build()
		}
		return int64(u), nil
	}
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, errors.New(errors.PhaseParse, errors.KindInvalidInput).
			Path(cmd).
			Value(s).
			Cause(err).
			Detail("invalid number").
			Build()
	}
	return v, nil
}

// execute runs cmd against reg and returns a one-line report. Commands the
// registry refuses are reported in the output, not as errors, so a script can
// exercise sentinel paths and keep going.
func execute(reg *descriptor.Registry, cmd command) (string, error) {
	var arg int64
	if len(cmd.args) > 0 {
		arg = cmd.args[0]
	}

	switch cmd.name {
	case "socket":
		s := descriptor.Socket(uint64(arg))
		if s == descriptor.InvalidSocket {
			return refused(fmt.Sprintf("socket %#x -> invalid vd", uint64(s)),
				errors.InvalidInput(errors.PhaseRegister, "handle is the invalid socket sentinel")), nil
		}
		vd := reg.RegisterSocket(s)
		if vd == descriptor.InvalidVD {
			return refused(fmt.Sprintf("socket %#x -> invalid vd", uint64(s)),
				errors.Duplicate(errors.PhaseRegister, "socket", hex(s))), nil
		}
		return fmt.Sprintf("socket %#x -> vd %d", uint64(s), vd), nil

	case "unsocket":
		s := descriptor.Socket(uint64(arg))
		if !reg.UnregisterSocket(s) {
			return refused(fmt.Sprintf("unsocket %#x", uint64(s)),
				errors.NotFound(errors.PhaseRelease, "socket", hex(s))), nil
		}
		return fmt.Sprintf("unsocket %#x: ok", uint64(s)), nil

	case "release":
		vd := descriptor.VD(arg)
		if vd.Reserved() {
			return "", errors.Reserved(errors.PhaseRelease, vd)
		}
		if !reg.ReleaseDescriptor(vd) {
			return refused(fmt.Sprintf("release %d", vd),
				errors.NotFound(errors.PhaseRelease, "socket descriptor", vd)), nil
		}
		return fmt.Sprintf("release %d: ok", vd), nil

	case "fd":
		fd := int(arg)
		vd := reg.RegisterFileDescriptor(fd)
		if vd == descriptor.InvalidVD {
			return refused(fmt.Sprintf("fd %d -> invalid vd", fd),
				errors.InvalidInput(errors.PhaseRegister, "file descriptor cannot be negative")), nil
		}
		return fmt.Sprintf("fd %d -> vd %d", fd, vd), nil

	case "unfd":
		fd := int(arg)
		if !reg.UnregisterFileDescriptor(fd) {
			return refused(fmt.Sprintf("unfd %d", fd),
				errors.NotFound(errors.PhaseRelease, "fd", fd)), nil
		}
		return fmt.Sprintf("unfd %d: ok", fd), nil

	case "lookup":
		vd := descriptor.VD(arg)
		if s := reg.LookupSocket(vd); s != descriptor.InvalidSocket {
			return fmt.Sprintf("vd %d: socket %#x", vd, uint64(s)), nil
		}
		if fd := reg.LookupFileDescriptor(vd); fd != descriptor.InvalidFD {
			return fmt.Sprintf("vd %d: fd %d", vd, fd), nil
		}
		return fmt.Sprintf("vd %d: free", vd), nil

	case "info":
		vd := descriptor.VD(arg)
		var out string
		ok := reg.UpdateSocketInfo(vd, func(si *descriptor.SocketInfo) {
			out = fmt.Sprintf("vd %d: socket=%#x flags=%#x state=%v", vd, uint64(si.Socket), si.Flags, si.State)
		})
		if !ok {
			return refused(fmt.Sprintf("vd %d", vd),
				errors.NotFound(errors.PhaseLookup, "socket descriptor", vd)), nil
		}
		return out, nil

	case "flags":
		vd := descriptor.VD(arg)
		flags := int(cmd.args[1])
		if !reg.UpdateSocketInfo(vd, func(si *descriptor.SocketInfo) { si.Flags = flags }) {
			return refused(fmt.Sprintf("flags %d", vd),
				errors.NotFound(errors.PhaseLookup, "socket descriptor", vd)), nil
		}
		return fmt.Sprintf("flags %d = %#x", vd, flags), nil

	case "table":
		return renderTable(reg.Snapshot(), plainTableStyle), nil

	case "verify":
		if err := reg.Verify(); err != nil {
			return "", err
		}
		return fmt.Sprintf("verify: ok (%d live, %d free, next %d)", reg.Len(), reg.Free(), reg.Next()), nil
	}

	return "", errors.Unsupported(errors.PhaseParse, fmt.Sprintf("command %q", cmd.name))
}

// refused reports a command the registry answered with a sentinel.
func refused(what string, reason *errors.Error) string {
	return what + ": " + reason.Error()
}

func hex(s descriptor.Socket) string {
	return fmt.Sprintf("%#x", uint64(s))
}

// runScript executes cmds in order, writing each report to w. It stops at the
// first error.
func runScript(reg *descriptor.Registry, cmds []command, w io.Writer) error {
	for _, cmd := range cmds {
		out, err := execute(reg, cmd)
		if err != nil {
			return fmt.Errorf("line %d: %s: %w", cmd.line, cmd.name, err)
		}
		fmt.Fprintln(w, out)
	}
	return nil
}

func plainTableStyle(_, _ int) lipgloss.Style {
	return lipgloss.NewStyle().Padding(0, 1)
}

// renderTable draws the live descriptors as a bordered table.
func renderTable(entries []descriptor.Entry, style table.StyleFunc) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("VD", "KIND", "NATIVE", "FLAGS", "BOUND").
		StyleFunc(style)

	for _, e := range entries {
		native := strconv.Itoa(e.FD)
		flags := "-"
		if e.Kind == descriptor.KindSocket {
			native = fmt.Sprintf("%#x", uint64(e.Socket))
			flags = fmt.Sprintf("%#x", e.Flags)
		}
		t.Row(strconv.Itoa(int(e.VD)), e.Kind.String(), native, flags, strconv.FormatBool(e.Bound))
	}
	return t.String()
}
