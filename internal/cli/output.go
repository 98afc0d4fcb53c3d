package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/nimbusedge/fleetctl/internal/domain"
)

// csvStyle selects which comma-separated record a command prints per
// instance when JSON output is not requested.
type csvStyle int

const (
	launchReportCSV csvStyle = iota // id,state,job
	listReportCSV                   // id,state,port,host,password,job
)

// printInstances renders instance descriptors to out, either as one JSON
// array (as consumed by fleetrun) or as CSV-ish lines. Passwords are masked
// unless showPasswords is set.
func printInstances(out io.Writer, instances []domain.Instance, asJSON, showPasswords bool, style csvStyle) {
	if !showPasswords {
		masked := make([]domain.Instance, len(instances))
		for i, inst := range instances {
			if inst.SSH != nil && inst.SSH.Password != "" {
				ssh := *inst.SSH
				ssh.Password = "*"
				inst.SSH = &ssh
			}
			masked[i] = inst
		}
		instances = masked
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(instances); err != nil {
			fmt.Fprintf(out, "[]\n")
		}
		return
	}

	for _, inst := range instances {
		switch style {
		case listReportCSV:
			var port int
			host, pw := "None", ""
			if inst.SSH != nil {
				port, host, pw = inst.SSH.Port, inst.SSH.Host, inst.SSH.Password
			}
			fmt.Fprintf(out, "%s,%s,%d,%s,%s,%s\n", inst.ID, inst.State, port, host, pw, inst.Job)
		default:
			fmt.Fprintf(out, "%s,%s,%s\n", inst.ID, inst.State, inst.Job)
		}
	}
}
