package daemon

import (
	"github.com/roslynquery/roslynquery/ipc"
	"github.com/roslynquery/roslynquery/protocol"
)

// Status describes the daemon serving one workspace, as rendered by the
// status command.
type Status struct {
	Workspace          string   `json:"workspace"`
	SocketPath         string   `json:"socket_path"`
	PIDFilePath        string   `json:"pid_file_path"`
	Running            bool     `json:"running"`
	Responsive         bool     `json:"responsive"`
	PID                int      `json:"pid,omitempty"`
	IdleTimeoutMinutes *int     `json:"idle_timeout_minutes,omitempty"`
	IdleSeconds        *float64 `json:"idle_seconds,omitempty"`
}

// GetStatus inspects the PID file and, when a daemon is alive, pings it for
// idle accounting. A live but unresponsive daemon reports Running without
// Responsive.
func GetStatus(workspacePath string) (*Status, error) {
	paths, err := PathsFor(workspacePath)
	if err != nil {
		return nil, err
	}

	status := &Status{
		Workspace:   paths.Workspace,
		SocketPath:  paths.Socket,
		PIDFilePath: paths.PIDFile,
	}

	pid, err := GetRunningPID(paths.PIDFile)
	if err != nil || pid == 0 {
		return status, nil
	}
	status.Running = true
	status.PID = pid

	client, err := ipc.Connect(paths.Socket, probeTimeout)
	if err != nil {
		return status, nil
	}
	defer client.Close()

	var pong protocol.PingResult
	if err := client.Call("ping", nil, &pong); err != nil {
		return status, nil
	}

	status.Responsive = true
	status.IdleTimeoutMinutes = &pong.IdleTimeoutMinutes
	status.IdleSeconds = &pong.IdleSeconds
	return status, nil
}
