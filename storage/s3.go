package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"arxiv-hype/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// ObjectStore ist der Ausschnitt der S3-API, den Archiv und Backup nutzen.
type ObjectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Client erstellt einen S3-Client für einen S3-kompatiblen Endpoint.
func NewS3Client(cfg *config.Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.S3URL,
				SigningRegion:     cfg.S3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// Archive legt Rohantworten der Provider gzip-komprimiert als JSON ab.
type Archive struct {
	Client  ObjectStore
	Bucket  string
	BaseURL string
	Logger  *zap.Logger
}

func NewArchive(client ObjectStore, cfg *config.Config, logger *zap.Logger) *Archive {
	return &Archive{Client: client, Bucket: cfg.S3Bucket, BaseURL: cfg.S3URL, Logger: logger}
}

// ArchiveKey baut den Objektschlüssel, z.B. "hnews/2024/01/02/hnews-20240102T030405Z.json.gz".
func ArchiveKey(kind string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%s/%s-%s.json.gz", kind, at.Format("2006/01/02"), kind, at.Format("20060102T150405Z"))
}

// PutJSON serialisiert v, komprimiert es und lädt es hoch. Gibt den Link zurück.
func (a *Archive) PutJSON(ctx context.Context, key string, v any) (string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(v); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := UploadFile(ctx, a.Client, a.Bucket, key, buf.Bytes(), "application/gzip"); err != nil {
		return "", err
	}
	link := fmt.Sprintf("%s/%s/%s", a.BaseURL, a.Bucket, key)
	a.Logger.Debug("Rohdaten archiviert", zap.String("link", link), zap.Int("bytes", buf.Len()))
	return link, nil
}

// UploadFile lädt data unter key in bucket hoch.
func UploadFile(ctx context.Context, client ObjectStore, bucket, key string, data []byte, contentType string) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

// ReadGzip entpackt ein mit PutJSON geschriebenes Objekt.
func ReadGzip(r io.Reader, v any) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()
	return json.NewDecoder(gz).Decode(v)
}

// expired liefert alle Objekte außer den keep neuesten.
func expired(objects []types.Object, keep int) []types.Object {
	if keep < 0 {
		keep = 0
	}
	if len(objects) <= keep {
		return nil
	}
	sorted := append([]types.Object(nil), objects...)
	sort.Slice(sorted, func(i, j int) bool {
		return aws.ToTime(sorted[i].LastModified).After(aws.ToTime(sorted[j].LastModified))
	})
	return sorted[keep:]
}

// Rotate löscht unter prefix alle bis auf die keep neuesten Objekte und gibt
// die Anzahl gelöschter Objekte zurück.
func Rotate(ctx context.Context, client ObjectStore, bucket, prefix string, keep int, logger *zap.Logger) (int, error) {
	var objects []types.Object
	var token *string
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return 0, err
		}
		objects = append(objects, out.Contents...)
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	old := expired(objects, keep)
	if len(old) == 0 {
		logger.Info("Keine Rotation nötig", zap.String("prefix", prefix), zap.Int("objects", len(objects)), zap.Int("keep", keep))
		return 0, nil
	}
	deleted := 0
	for _, obj := range old {
		logger.Info("Lösche altes Objekt", zap.String("key", aws.ToString(obj.Key)))
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    obj.Key,
		})
		if err != nil {
			logger.Warn("Fehler beim Löschen", zap.String("key", aws.ToString(obj.Key)), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, nil
}
