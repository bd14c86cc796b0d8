package ocispec

import "encoding/json"

// unmarshalSpec decodes config.json. The OCI runtime-spec package defines
// the target struct but not a decoder; encoding/json is what the teacher's
// own bundle loader (virtcontainers/pkg/oci) uses for this, since the
// format is already JSON and needs no additional codec.
func unmarshalSpec(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}
