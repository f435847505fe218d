package courtesy

// Artifact is a rendered deliverable for one request.
type Artifact struct {
	Format Format
	Data   []byte
	Pages  int
}

func (a Artifact) Size() int64 { return int64(len(a.Data)) }
