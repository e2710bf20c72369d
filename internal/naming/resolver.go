package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// maxProbes bounds the numeric suffix scan; directories this crowded fall
// back to a random suffix instead of probing forever.
const maxProbes = 10000

// Resolve returns a filename unique within dir at call time: "base.ext" if
// free, otherwise "base 1.ext", "base 2.ext", and so on. ext must include
// the leading dot. Pure query over the directory; callers that go on to
// create the file must hold the directory write lock across resolve+create.
func Resolve(dir, base, ext string) string {
	base = sanitizeBase(base)

	name := base + ext
	if free(dir, name) {
		return name
	}
	for i := 1; i <= maxProbes; i++ {
		name = fmt.Sprintf("%s %d%s", base, i, ext)
		if free(dir, name) {
			return name
		}
	}
	// Adversarially crowded directory; a random suffix collision is
	// vanishingly unlikely and still subject to the caller's lock.
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%s %s%s", base, suffix, ext)
}

func free(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return os.IsNotExist(err)
}

// sanitizeBase strips path separators so that user supplied names cannot
// escape the managed directory. Extension trimming is the caller's job;
// display names may legitimately contain dots.
func sanitizeBase(base string) string {
	base = filepath.Base(base)
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "File"
	}
	return base
}
