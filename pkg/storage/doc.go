// Package storage offloads email attachment bodies to object storage so job
// records stay small. [S3] uses aws-sdk-go-v2 against AWS or any
// S3-compatible endpoint; [Memory] serves tests.
//
// Keys follow [AttachmentKey]: "attachments/{jobID}/{index}-{filename}".
package storage
