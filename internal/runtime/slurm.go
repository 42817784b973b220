package runtime

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// SlurmJobID returns the job id from the SLURM environment, or "" when
// not running under SLURM.
func SlurmJobID() string {
	if v := os.Getenv("SLURM_JOB_ID"); v != "" {
		return v
	}
	return os.Getenv("SLURM_JOBID")
}

// SlurmNodeList expands SLURM_NODELIST into individual hostnames. It
// prefers scontrol, which understands every nodelist form, and falls back
// to the built-in bracket-range parser when scontrol is unavailable.
func SlurmNodeList() ([]string, error) {
	raw := os.Getenv("SLURM_NODELIST")
	if raw == "" {
		return nil, fmt.Errorf("SLURM_NODELIST not set - are we running in SLURM?")
	}
	if out, err := exec.Command("scontrol", "show", "hostnames", raw).Output(); err == nil {
		var nodes []string
		for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				nodes = append(nodes, line)
			}
		}
		if len(nodes) > 0 {
			return nodes, nil
		}
	}
	return ExpandNodeList(raw), nil
}

// ExpandNodeList parses a compact SLURM nodelist such as
// "gb200-[01-03,07],login1" without shelling out. A token it cannot
// parse is kept as a single hostname.
func ExpandNodeList(raw string) []string {
	var out []string
	for _, token := range splitOutsideBrackets(raw) {
		open := strings.Index(token, "[")
		close := strings.Index(token, "]")
		if open < 0 || close < open {
			if token != "" {
				out = append(out, token)
			}
			continue
		}
		prefix, spec, suffix := token[:open], token[open+1:close], token[close+1:]
		for _, part := range strings.Split(spec, ",") {
			lo, hi, ok := strings.Cut(part, "-")
			if !ok {
				out = append(out, prefix+part+suffix)
				continue
			}
			start, err1 := strconv.Atoi(lo)
			end, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil || end < start {
				out = append(out, prefix+part+suffix)
				continue
			}
			width := len(lo)
			for i := start; i <= end; i++ {
				out = append(out, fmt.Sprintf("%s%0*d%s", prefix, width, i, suffix))
			}
		}
	}
	return out
}

// splitOutsideBrackets splits on commas that are not inside [].
func splitOutsideBrackets(raw string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, c := range raw {
		switch c {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, raw[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, raw[start:])
}
