package session

// Progress is a snapshot of the active (or just-finished) transfer. It is
// derived state, recomputed on every chunk, and is discarded with the
// transfer; nothing here is persisted.
type Progress struct {
	FileName   string
	FileSize   uint64
	Bytes      uint64
	Percentage float64
	// Speed is bytes per second, 0 while no time has elapsed.
	Speed     float64
	Status    Status
	SavedPath string
	Err       string
}

// Event is one element of the session's observer stream: a phase transition,
// a progress snapshot, or both.
type Event struct {
	Phase    Phase
	Progress *Progress
}

func progressSnapshot(name string, size, bytes uint64, elapsedSeconds float64, status Status) *Progress {
	p := &Progress{
		FileName: name,
		FileSize: size,
		Bytes:    bytes,
		Status:   status,
	}
	if size > 0 {
		p.Percentage = float64(bytes) / float64(size) * 100
	} else if status == StatusCompleted {
		p.Percentage = 100
	}
	if elapsedSeconds > 0 {
		p.Speed = float64(bytes) / elapsedSeconds
	}
	return p
}
