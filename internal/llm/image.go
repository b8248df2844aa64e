// internal/llm/image.go
package llm

import "encoding/base64"

// PNGDataURL encodes a PNG as a data URL for image_url parts.
func PNGDataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
