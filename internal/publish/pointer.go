package publish

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/tapestrydocs/asset-engine/internal/log"
	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// ssmAPI is the SSM surface the pointer needs. Extracted for tests.
type ssmAPI interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// Pointer advances the release parameter the render fleet polls: the
// SHA-256 of the current manifest bytes. Readers fetch the parameter,
// compare it to their loaded manifest's hash, and reload on change.
type Pointer struct {
	client ssmAPI
	param  string
	logr   log.Logger
}

func NewPointer(client *ssm.Client, param string, logger log.Logger) *Pointer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Pointer{client: client, param: param, logr: logger}
}

// Update overwrites the release parameter with the manifest hash.
func (p *Pointer) Update(ctx context.Context, manifestHash string) error {
	if manifestHash == "" {
		return xerrors.New("manifest hash is empty")
	}
	out, err := p.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(p.param),
		Value:     aws.String(manifestHash),
		Type:      ssmtypes.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return xerrors.Wrapf(err, "put SSM parameter %s", p.param)
	}
	p.logr.Info(ctx, "release pointer updated",
		"param", p.param,
		"hash", manifestHash,
		"param_version", out.Version,
	)
	return nil
}
