// Package patch defines the data model shared by the update and repair
// subsystems: the server manifest, local scan results, and the persisted
// per-folder update state.
package patch

// ServerFile is one entry in the server's patch manifest. Name is unique
// and server-relative, including the extension.
type ServerFile struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	Modified     int64  `json:"modified"` // epoch seconds
	ModifiedDate string `json:"modified_date,omitempty"`
	Checksum     string `json:"checksum,omitempty"` // MD5 hex, not all responses carry it
}

// LocalFile describes an entry found by scanning the installation folder.
// Directories report their recursive total byte size.
type LocalFile struct {
	Name        string
	Size        int64
	Modified    int64 // epoch seconds
	IsDirectory bool
}

// Checksum pairs a manifest name with its server-side MD5 hex digest.
type Checksum struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
}

// DownloadStats accumulates transfer statistics across batches for one
// installation folder.
type DownloadStats struct {
	TotalDownloads      int     `json:"totalDownloads"`
	SuccessfulDownloads int     `json:"successfulDownloads"`
	FailedDownloads     int     `json:"failedDownloads"`
	LastSpeed           float64 `json:"lastDownloadSpeed"`    // bytes/sec
	AverageSpeed        float64 `json:"averageDownloadSpeed"` // bytes/sec
}

// UpdateState is the persisted last-known-server-state snapshot for one
// installation folder. It is always replaced wholesale, never partially
// mutated.
type UpdateState struct {
	FolderPath       string        `json:"folderPath"`
	LastUpdate       int64         `json:"lastUpdate"`       // epoch ms
	LastVerification int64         `json:"lastVerification"` // epoch ms
	ServerFiles      []ServerFile  `json:"serverFiles"`
	DownloadStats    DownloadStats `json:"downloadStats"`
}

// FileByName returns the snapshot entry with the given name.
func (s *UpdateState) FileByName(name string) (ServerFile, bool) {
	for _, f := range s.ServerFiles {
		if f.Name == name {
			return f, true
		}
	}
	return ServerFile{}, false
}

// BatchSummary is the terminal report of one update batch.
type BatchSummary struct {
	Total           int      `json:"total"`
	Downloaded      int      `json:"downloaded"`
	Failed          int      `json:"failed"`
	DownloadedNames []string `json:"downloadedFiles"`
	FailedNames     []string `json:"failedFiles"`
}
