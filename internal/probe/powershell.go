package probe

import (
	"fmt"
	"time"
)

const (
	powershellPath = `C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`
	timeLayout     = "2006-01-02 15:04:05"

	// latest_time value meaning "no occurrence".
	noneSentinel = "None"
)

// artifact is the record the guest-side script writes for the monitor to
// fetch.
type artifact struct {
	Count      int    `json:"count"`
	LatestTime string `json:"latest_time"`
}

// buildEventQuery renders the PowerShell one-liner that counts occurrences of
// eventID in the System log within [start, end] and writes the result as
// compact JSON to outPath inside the guest.
func buildEventQuery(eventID int, start, end time.Time, outPath string) string {
	return fmt.Sprintf(
		`$events = Get-EventLog -LogName System -After '%s' -Before '%s' -ErrorAction SilentlyContinue | Where-Object {$_.EventID -eq %d} | Sort-Object TimeGenerated -Descending; `+
			`$count = ($events | Measure-Object).Count; `+
			`$latestTime = if ($events) { $events[0].TimeGenerated.ToString('yyyy-MM-dd HH:mm:ss') } else { '%s' }; `+
			`@{count=$count; latest_time=$latestTime} | ConvertTo-Json -Compress | Out-File -FilePath '%s' -Encoding ASCII`,
		start.Format(timeLayout),
		end.Format(timeLayout),
		eventID,
		noneSentinel,
		outPath,
	)
}
