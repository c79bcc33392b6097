package codeforces

import (
	"encoding/json"
	"fmt"

	"github.com/qri-io/jsonschema"
)

// Response schemas for the three endpoints. They pin down the fields the
// sync pipeline reads so a malformed payload fails the fetch instead of
// silently decoding to zero values.
const (
	userInfoSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"type": "string", "enum": ["OK", "FAILED"]},
    "comment": {"type": "string"},
    "result": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["handle"],
        "properties": {
          "handle": {"type": "string"},
          "rating": {"type": "integer"},
          "maxRating": {"type": "integer"}
        }
      }
    }
  }
}`

	userRatingSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"type": "string", "enum": ["OK", "FAILED"]},
    "comment": {"type": "string"},
    "result": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["contestId", "contestName", "rank", "ratingUpdateTimeSeconds", "oldRating", "newRating"],
        "properties": {
          "contestId": {"type": "integer"},
          "contestName": {"type": "string"},
          "rank": {"type": "integer"},
          "ratingUpdateTimeSeconds": {"type": "integer"},
          "oldRating": {"type": "integer"},
          "newRating": {"type": "integer"}
        }
      }
    }
  }
}`

	userStatusSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"type": "string", "enum": ["OK", "FAILED"]},
    "comment": {"type": "string"},
    "result": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["creationTimeSeconds", "problem"],
        "properties": {
          "contestId": {"type": "integer"},
          "creationTimeSeconds": {"type": "integer"},
          "verdict": {"type": "string"},
          "problem": {
            "type": "object",
            "required": ["index", "name"],
            "properties": {
              "contestId": {"type": "integer"},
              "index": {"type": "string"},
              "name": {"type": "string"},
              "rating": {"type": "integer"}
            }
          }
        }
      }
    }
  }
}`
)

var (
	userInfoValidator   = mustCompile("user.info", userInfoSchema)
	userRatingValidator = mustCompile("user.rating", userRatingSchema)
	userStatusValidator = mustCompile("user.status", userStatusSchema)
)

func mustCompile(name, raw string) *jsonschema.Schema {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(raw), rs); err != nil {
		panic(fmt.Sprintf("compile %s schema: %v", name, err))
	}
	return rs
}
