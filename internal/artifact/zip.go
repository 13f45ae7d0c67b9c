package artifact

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// writeZip assembles result.zip inside workDir from in-memory artifacts plus
// the crop files, which enter under crops/.
func writeZip(workDir string, texts map[string][]byte, crops []cropFile) (string, error) {
	zipPath := filepath.Join(workDir, NameResultZip)
	f, err := os.Create(zipPath)
	if err != nil {
		return "", errors.Wrap(err, "failed to create result archive")
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range []string{NameResultMD, NameAnnotation, NameOcrHTML, NameResultJSON} {
		data, ok := texts[name]
		if !ok {
			continue
		}
		w, err := zw.Create(name)
		if err != nil {
			return "", errors.Wrapf(err, "failed to add %s to archive", name)
		}
		if _, err := w.Write(data); err != nil {
			return "", errors.Wrapf(err, "failed to write %s to archive", name)
		}
	}

	for _, crop := range crops {
		if err := addFileToZip(zw, cropsSubdir+"/"+crop.name, crop.path); err != nil {
			return "", err
		}
	}

	if err := zw.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finish result archive")
	}
	return zipPath, nil
}

func addFileToZip(zw *zip.Writer, name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer src.Close()

	w, err := zw.Create(name)
	if err != nil {
		return errors.Wrapf(err, "failed to add %s to archive", name)
	}
	if _, err := io.Copy(w, src); err != nil {
		return errors.Wrapf(err, "failed to write %s to archive", name)
	}
	return nil
}
