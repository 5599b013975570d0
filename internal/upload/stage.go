package upload

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/podcast-tracker/constants"
)

// Stage is the transient progress indicator of a submission.
type Stage int

const (
	StageIdle Stage = iota
	StageSigning
	StageUploading
	StageRegistering
)

func (s Stage) String() string {
	switch s {
	case StageSigning:
		return "Getting upload link…"
	case StageUploading:
		return "Uploading…"
	case StageRegistering:
		return "Creating job…"
	default:
		return ""
	}
}

// OpenFile prepares a local file for Submit. The declared type comes from the
// extension and falls back to content sniffing. The caller closes the file.
func OpenFile(path string) (Input, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Input{}, nil, fmt.Errorf("open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Input{}, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return Input{}, nil, fmt.Errorf("%s is a directory", path)
	}

	ct := constants.ContentTypeForExt(filepath.Ext(path))
	if ct == "" {
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		ct = constants.NormalizeContentType(http.DetectContentType(head[:n]))
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			_ = f.Close()
			return Input{}, nil, fmt.Errorf("rewind %s: %w", path, err)
		}
	}

	return Input{
		Filename:    filepath.Base(path),
		ContentType: ct,
		Size:        st.Size(),
		Body:        f,
	}, f, nil
}
