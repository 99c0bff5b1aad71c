package compact

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"typedtables/errs"
	"typedtables/storage"
)

// ttarMagic is the 4-byte header every .ttar stream starts with (spec
// §6.2). gzip-wrapped streams start with the standard gzip magic instead;
// Restore tells the two apart before reading further.
var ttarMagic = [4]byte{'T', 'T', 'A', 'R'}

const ttarVersion uint16 = 1

// fileChecksum is one manifest entry's blake2b-256 digest, recorded
// alongside the per-file {name, size} header the distilled format already
// specifies (§6.2) and verified again on Restore.
type fileChecksum struct {
	Name string `json:"name"`
	Sum  string `json:"blake2b_256"`
}

// Manifest is the JSON metadata block embedded in every .ttar stream. ID
// identifies one archive run; it has no meaning beyond letting two
// snapshots of the same directory be told apart in a log line.
type Manifest struct {
	ID        string         `json:"id"`
	CreatedAt string         `json:"created_at"`
	Source    string         `json:"source"`
	Files     []fileChecksum `json:"files"`
}

// Archive compacts srcDir and writes the result as a .ttar stream to
// dstPath (spec §4.I: "archive creation: compact first, then serialize").
// When gzipWrap is true the whole stream is wrapped with a gzip writer.
func Archive(srcDir, dstPath string, gzipWrap bool, opts storage.Options, log storage.Logger) error {
	if log == nil {
		log = func(string, ...any) {}
	}

	compactDir, err := os.MkdirTemp(filepath.Dir(dstPath), ".ttar-compact-*")
	if err != nil {
		return errors.Wrap(err, "compact: create staging directory")
	}
	defer os.RemoveAll(compactDir)

	log("archive: start %s", strftime.Format("%Y-%m-%d %H:%M:%S", time.Now()))
	if err := Compact(srcDir, compactDir, opts); err != nil {
		return errors.Wrap(err, "compact: staging pass")
	}

	names, err := sortedDataFiles(compactDir)
	if err != nil {
		return err
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return errors.Wrap(err, "archive: create output")
	}
	defer out.Close()

	var w io.Writer = out
	var gz *gzip.Writer
	if gzipWrap {
		gz = gzip.NewWriter(out)
		w = gz
	}
	bw := bufio.NewWriter(w)

	manifest := Manifest{
		ID:        uuid.NewString(),
		CreatedAt: strftime.Format("%Y-%m-%dT%H:%M:%S", time.Now()),
		Source:    filepath.Base(srcDir),
	}
	var total uint64
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(compactDir, name))
		if err != nil {
			return errors.Wrapf(err, "archive: read %s", name)
		}
		sum := blake2b.Sum256(b)
		manifest.Files = append(manifest.Files, fileChecksum{Name: name, Sum: hexString(sum[:])})
		total += uint64(len(b))
	}
	log("archive: %d files, %s total", len(names), humanize.Bytes(total))

	metaBytes, err := json.Marshal(manifest)
	if err != nil {
		return errors.Wrap(err, "archive: marshal manifest")
	}

	if err := writeHeader(bw, metaBytes, uint32(len(names))); err != nil {
		return err
	}
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(compactDir, name))
		if err != nil {
			return errors.Wrapf(err, "archive: read %s", name)
		}
		if err := writeEntry(bw, name, b); err != nil {
			return err
		}
	}

	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "archive: flush")
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return errors.Wrap(err, "archive: close gzip writer")
		}
	}
	return nil
}

// Restore reads a .ttar stream (gzip-wrapped or not, auto-detected) and
// recreates its files under dstDir, which must not already exist. Each
// file's blake2b-256 digest is recomputed and compared against the
// manifest entry recorded at Archive time.
func Restore(archivePath, dstDir string) error {
	if _, err := os.Stat(dstDir); err == nil {
		return errs.NewExistingOutput(dstDir)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrap(err, "restore: open archive")
	}
	defer f.Close()

	br := bufio.NewReader(f)
	peek, err := br.Peek(2)
	if err != nil {
		return errors.Wrap(err, "restore: read header")
	}
	var r io.Reader = br
	if peek[0] == 0x1f && peek[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return errors.Wrap(err, "restore: open gzip stream")
		}
		defer gz.Close()
		r = gz
	}

	metaBytes, fileCount, err := readHeader(r)
	if err != nil {
		return err
	}
	var manifest Manifest
	if err := json.Unmarshal(metaBytes, &manifest); err != nil {
		return errs.NewArchiveFormat("manifest is not valid JSON: " + err.Error())
	}
	sums := make(map[string]string, len(manifest.Files))
	for _, fc := range manifest.Files {
		sums[fc.Name] = fc.Sum
	}

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return errors.Wrap(err, "restore: create destination")
	}

	for i := uint32(0); i < fileCount; i++ {
		name, data, err := readEntry(r)
		if err != nil {
			return err
		}
		if want, ok := sums[name]; ok {
			got := hexString(blake2bSum(data))
			if got != want {
				return errs.NewArchiveFormat("checksum mismatch for " + name)
			}
		}
		dst := filepath.Join(dstDir, name)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errors.Wrapf(err, "restore: create directory for %s", name)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return errors.Wrapf(err, "restore: write %s", name)
		}
	}
	return nil
}

func blake2bSum(b []byte) []byte {
	sum := blake2b.Sum256(b)
	return sum[:]
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

// sortedDataFiles lists every regular file under dir (the compacted
// database plus its _metadata.json sidecar), relative to dir, in a
// deterministic order so two archives of the same content list their files
// identically. The archives themselves still differ byte-wise, since each
// manifest carries its own run ID and creation time.
func sortedDataFiles(dir string) ([]string, error) {
	var names []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "archive: walk staging directory")
	}
	sort.Strings(names)
	return names, nil
}

func writeHeader(w io.Writer, metaBytes []byte, fileCount uint32) error {
	if _, err := w.Write(ttarMagic[:]); err != nil {
		return errors.Wrap(err, "archive: write magic")
	}
	if err := binary.Write(w, binary.LittleEndian, ttarVersion); err != nil {
		return errors.Wrap(err, "archive: write version")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(metaBytes))); err != nil {
		return errors.Wrap(err, "archive: write meta length")
	}
	if _, err := w.Write(metaBytes); err != nil {
		return errors.Wrap(err, "archive: write meta")
	}
	if err := binary.Write(w, binary.LittleEndian, fileCount); err != nil {
		return errors.Wrap(err, "archive: write file count")
	}
	return nil
}

func writeEntry(w io.Writer, name string, data []byte) error {
	nameBytes := []byte(name)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(nameBytes))); err != nil {
		return errors.Wrapf(err, "archive: write name length for %s", name)
	}
	if _, err := w.Write(nameBytes); err != nil {
		return errors.Wrapf(err, "archive: write name for %s", name)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(data))); err != nil {
		return errors.Wrapf(err, "archive: write size for %s", name)
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrapf(err, "archive: write bytes for %s", name)
	}
	return nil
}

func readHeader(r io.Reader) ([]byte, uint32, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, 0, errors.Wrap(err, "restore: read magic")
	}
	if magic != ttarMagic {
		return nil, 0, errs.NewArchiveFormat("missing TTAR magic")
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, 0, errors.Wrap(err, "restore: read version")
	}
	if version != ttarVersion {
		return nil, 0, errs.NewArchiveFormat("unsupported archive version")
	}
	var metaLen uint32
	if err := binary.Read(r, binary.LittleEndian, &metaLen); err != nil {
		return nil, 0, errors.Wrap(err, "restore: read meta length")
	}
	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		return nil, 0, errors.Wrap(err, "restore: read meta")
	}
	var fileCount uint32
	if err := binary.Read(r, binary.LittleEndian, &fileCount); err != nil {
		return nil, 0, errors.Wrap(err, "restore: read file count")
	}
	return metaBytes, fileCount, nil
}

func readEntry(r io.Reader) (string, []byte, error) {
	var nameLen uint32
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return "", nil, errors.Wrap(err, "restore: read name length")
	}
	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return "", nil, errors.Wrap(err, "restore: read name")
	}
	var size uint64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return "", nil, errors.Wrap(err, "restore: read size")
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", nil, errors.Wrap(err, "restore: read bytes")
	}
	return string(nameBytes), data, nil
}
