package coordinator

import "time"

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// FileRecord describes a tracked local file (local and published views).
// Timestamps are unix seconds as reported by the client API.
type FileRecord struct {
	Name        string  `json:"name"`
	Size        uint64  `json:"size"`
	CreatedAt   float64 `json:"created"`
	ModifiedAt  float64 `json:"modified"`
	AddedAt     float64 `json:"added_at"`
	Path        string  `json:"path,omitempty"`
	IsPublished bool    `json:"is_published"`
	PublishedAt float64 `json:"published_at,omitempty"`
}

// NetworkFileRecord describes a file advertised by a peer in the directory.
// The same name may appear from multiple owners; the identity key is the
// (OwnerHostname, Name) pair.
type NetworkFileRecord struct {
	Name          string  `json:"name"`
	Size          uint64  `json:"size"`
	CreatedAt     float64 `json:"created"`
	ModifiedAt    float64 `json:"modified"`
	PublishedAt   float64 `json:"published_at"`
	OwnerHostname string  `json:"owner_hostname"`
	OwnerName     string  `json:"owner_name"`
	OwnerIP       string  `json:"owner_ip"`
	OwnerPort     uint16  `json:"owner_port"`
}

// Key returns the identity key for this record.
func (r NetworkFileRecord) Key() NetworkKey {
	return NetworkKey{Owner: r.OwnerHostname, Name: r.Name}
}

// NetworkKey identifies a network file by owner and name.
type NetworkKey struct {
	Owner string
	Name  string
}

// DuplicateVerdict is the classifier's structured answer for a candidate
// file. Partial matches are retained even when exact matches exist; the
// exact set takes precedence only in the user-facing message.
type DuplicateVerdict struct {
	ExistsLocally  bool
	LocalMatch     *FileRecord
	HasExact       bool
	ExactMatches   []NetworkFileRecord
	HasPartial     bool
	PartialMatches []NetworkFileRecord
}

// FetchStatus is the lifecycle state of a fetch session.
type FetchStatus string

const (
	FetchIdle       FetchStatus = "idle"
	FetchRequested  FetchStatus = "requested"
	FetchInProgress FetchStatus = "downloading"
	FetchCompleted  FetchStatus = "completed"
	FetchFailed     FetchStatus = "failed"
)

// Terminal reports whether the status ends the polling loop.
func (s FetchStatus) Terminal() bool {
	return s == FetchCompleted || s == FetchFailed
}

// FetchProgress is one in-flight or completed download, as reported by the
// peer-transfer backend's progress resource.
type FetchProgress struct {
	FetchID         string      `json:"fetch_id"`
	FileName        string      `json:"file_name"`
	SavePath        string      `json:"save_path,omitempty"`
	Status          FetchStatus `json:"status"`
	DownloadedBytes uint64      `json:"downloaded_size"`
	TotalBytes      uint64      `json:"total_size"`
	ProgressPercent float64     `json:"progress_percent"`
	SpeedBps        float64     `json:"speed_bps"`
	ElapsedTime     float64     `json:"elapsed_time"`
	ETASeconds      float64     `json:"eta_seconds"`
	PeerHostname    string      `json:"peer_hostname"`
	PeerIP          string      `json:"peer_ip"`
	ErrorMessage    string      `json:"error_message,omitempty"`
}

// User is the identity returned by the session service at login.
type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// ClientInfo describes the per-client endpoint established by /init.
type ClientInfo struct {
	Username    string `json:"username"`
	Hostname    string `json:"hostname"`
	DisplayName string `json:"display_name"`
	Port        uint16 `json:"port"`
	Repo        string `json:"repo"`
	ServerHost  string `json:"server_host"`
	ServerPort  uint16 `json:"server_port"`
	AdvertiseIP string `json:"advertise_ip"`
}
