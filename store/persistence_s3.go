/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package store

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Backend stores one object per script under Prefix/<sha1>.luac,
// following the <prefix>/<key> object layout storage/persistence-s3.go
// documents for column blobs — scripts are small and immutable once
// written, so unlike that file's segmented log, there is no append buffer
// to manage here.
type S3Backend struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string

	once   sync.Once
	client *s3.Client
	err    error
}

func (b *S3Backend) ensureOpen() error {
	b.once.Do(func() {
		opts := []func(*config.LoadOptions) error{
			config.WithRegion(b.Region),
		}
		if b.AccessKeyID != "" {
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(b.AccessKeyID, b.SecretAccessKey, "")))
		}
		cfg, err := config.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			b.err = err
			return
		}
		b.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if b.Endpoint != "" {
				o.BaseEndpoint = aws.String(b.Endpoint)
				o.UsePathStyle = true
			}
		})
	})
	return b.err
}

func (b *S3Backend) key(sha1hex string) string {
	pfx := strings.TrimSuffix(b.Prefix, "/")
	if pfx == "" {
		return sha1hex + ".luac"
	}
	return pfx + "/" + sha1hex + ".luac"
}

func (b *S3Backend) Load(sha1hex string) ([]byte, bool, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, false, err
	}
	out, err := b.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.key(sha1hex)),
	})
	if err != nil {
		// the SDK reports a missing key the same way it reports any other
		// transport failure, so treat any GetObject error as a cache miss
		// the way storage/persistence-s3.go's ReadSchema/ReadColumn do.
		return nil, false, nil
	}
	defer out.Body.Close()
	blob, err := io.ReadAll(out.Body)
	return blob, err == nil, err
}

func (b *S3Backend) Store(sha1hex string, blob []byte) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	_, err := b.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.key(sha1hex)),
		Body:   bytes.NewReader(blob),
	})
	return err
}
