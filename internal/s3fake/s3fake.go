// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package s3fake backs the "s3" scheme of the file package with an
// in-memory bucket for tests. grail.Init registers the real S3
// implementation, so test binaries that use this package must not call it.
//
// Each call to Dir starts a new, empty bucket bound to the calling test, so
// tests that use this package must not run in parallel.
package s3fake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/testutil/s3test"
)

// Bucket is the only bucket served by the fake.
const Bucket = "biosv-testing"

// provider hands out the client of the most recent Dir call.
type provider struct {
	mu     sync.Mutex
	client *s3test.Client
}

func (p *provider) current() *s3test.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *provider) Get(ctx context.Context, op, path string) ([]s3iface.S3API, error) {
	return []s3iface.S3API{p.current()}, nil
}

func (p *provider) NotifyResult(ctx context.Context, op, path string, client s3iface.S3API, err error) {
}

var (
	once sync.Once
	fake provider
	seq  int64
)

// Dir registers the fake the first time it is called, replaces the bucket
// with an empty one that reports failures to t, and returns a fresh
// directory under s3://Bucket.
func Dir(t *testing.T) string {
	once.Do(func() {
		file.RegisterImplementation("s3", func() file.Implementation {
			return s3file.NewImplementation(&fake, s3file.Options{})
		})
	})
	fake.mu.Lock()
	fake.client = s3test.NewClient(t, Bucket)
	fake.mu.Unlock()
	return fmt.Sprintf("s3://%s/%s-%d", Bucket, t.Name(), atomic.AddInt64(&seq, 1))
}

// Exists reports whether the object at path, an s3://Bucket/... URL, is
// present in the current bucket. It bypasses the file package.
func Exists(path string) bool {
	client := fake.current()
	if client == nil {
		return false
	}
	key := strings.TrimPrefix(path, "s3://"+Bucket+"/")
	_, err := client.HeadObjectWithContext(aws.BackgroundContext(),
		&s3.HeadObjectInput{Bucket: aws.String(Bucket), Key: aws.String(key)})
	return err == nil
}
