package ring

import "fmt"

// NotInNetworkError is returned when a GUID passed to BackupPeers does
// not appear in the computed ring. Per spec this is a programmer
// error: it means a caller asked for backups around a GUID that was
// never a member of {1..max}, and the current ring computation should
// be aborted rather than silently returning a partial answer.
type NotInNetworkError struct {
	GUID GUID
}

func (e *NotInNetworkError) Error() string {
	return fmt.Sprintf("guid %d not in network", uint64(e.GUID))
}
