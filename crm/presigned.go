package crm

import (
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"

	"github.com/chatbridge/wabridge/utils"
)

const defaultSignExpiration = 7 * 24 * time.Hour

// AttachmentSigner turns private S3 attachment links into presigned URLs the
// provider can fetch. Links on other hosts pass through untouched.
type AttachmentSigner struct {
	accessKey string
	secretKey string
	region    string
	signHost  string
}

func NewAttachmentSigner(accessKey string, secretKey string, region string, signHost string) *AttachmentSigner {
	return &AttachmentSigner{accessKey: accessKey, secretKey: secretKey, region: region, signHost: signHost}
}

// SignIfNeeded returns a presigned URL for links on the configured sign host,
// the original link otherwise.
func (s *AttachmentSigner) SignIfNeeded(link string) (string, error) {
	if s == nil || s.signHost == "" {
		return link, nil
	}

	parsed, err := url.Parse(link)
	if err != nil || parsed.Host == "" {
		return "", errors.Errorf("invalid attachment URL format: %s", link)
	}
	if !strings.Contains(parsed.Host, s.signHost) {
		return link, nil
	}

	// bucket is the first label of the virtual-hosted style host
	bucketName := strings.Split(parsed.Host, ".")[0]
	objectKey := utils.ToAscii(parsed.Path)

	sess, err := session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(s.accessKey, s.secretKey, ""),
		Region:      aws.String(s.region),
	})
	if err != nil {
		return "", err
	}

	svc := s3.New(sess)

	req, _ := svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(objectKey),
	})
	urlStr, err := req.Presign(defaultSignExpiration)
	if err != nil {
		return "", err
	}

	return urlStr, nil
}
