package staging

import (
	"crypto/md5"
	"fmt"
	"path"
	"strings"

	"github.com/gridpilot/pilot/internal/model"
	"github.com/gridpilot/pilot/internal/taxonomy"
)

// DeterministicPath builds the partial path used by deterministic storage
// endpoints, grounded on StageOutClient.get_path:
//
//	<scope split on '.'> / md5(scope:lfn)[0:2] / md5(scope:lfn)[2:4] / <lfn>
//
// with empty path segments dropped.
func DeterministicPath(scope, lfn string) string {
	sum := md5.Sum([]byte(scope + ":" + lfn))
	hexsum := fmt.Sprintf("%x", sum)

	parts := strings.Split(scope, ".")
	parts = append(parts, hexsum[0:2], hexsum[2:4], lfn)

	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// ResolveSURL computes the final destination SURL for a stage-out file,
// grounded on StageOutClient.resolve_surl: deterministic endpoints get
// protocol's endpoint/path joined with DeterministicPath; non-deterministic
// endpoints (the storage element itself decides file placement) use the
// protocol's se_path verbatim, unmodified by DeterministicPath.
func ResolveSURL(file *model.FileSpec, protocol model.Protocol, storage *model.Config) (string, error) {
	sd, ok := storage.Resolve(file.DDMEndpoint)
	if !ok {
		return "", taxonomy.New(taxonomy.QueueData, map[string]any{"ddmendpoint": file.DDMEndpoint}, "failed to resolve ddmendpoint")
	}
	if !sd.IsDeterministic {
		return protocol.Endpoint + protocol.Path, nil
	}
	return protocol.Endpoint + path.Join(protocol.Path, DeterministicPath(file.Scope, file.LFN)), nil
}
