package invoke

import "encoding/json"

// Request identifies the object the remote function should process.
type Request struct {
	Bucket string
	Key    string
}

// The envelope mirrors the subset of an S3 notification the remote function
// reads, so it can be handled by the same code path as bucket events.
type s3Event struct {
	Records []s3Record `json:"Records"`
}

type s3Record struct {
	S3 s3Entity `json:"s3"`
}

type s3Entity struct {
	Bucket s3Bucket `json:"bucket"`
	Object s3Object `json:"object"`
}

type s3Bucket struct {
	Name string `json:"name"`
}

type s3Object struct {
	Key string `json:"key"`
}

// Payload encodes r as a single-record S3 event.
func (r Request) Payload() ([]byte, error) {
	return json.Marshal(s3Event{
		Records: []s3Record{{
			S3: s3Entity{
				Bucket: s3Bucket{Name: r.Bucket},
				Object: s3Object{Key: r.Key},
			},
		}},
	})
}
