package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cmdb/internal/pager"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

const iamPageSize = 100

// users crawls IAM users. Users are global, their region is empty.
func (c *crawl) users(ctx context.Context) ([]inventory.CloudUser, error) {
	op := opName("iam", "ListUsers", "")
	raw, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[iamtypes.User], error) {
		out, err := call(ctx, c.a, op, func(ctx context.Context) (*iam.ListUsersOutput, error) {
			return c.a.global.iam.ListUsers(ctx, &iam.ListUsersInput{
				Marker:   token,
				MaxItems: aws.Int32(iamPageSize),
			})
		})
		if err != nil {
			return pager.Page[iamtypes.User]{}, err
		}
		next := out.Marker
		if !out.IsTruncated {
			next = nil
		}
		return pager.Page[iamtypes.User]{Items: out.Users, Next: next}, nil
	})
	if err != nil {
		return nil, err
	}

	users := make([]inventory.CloudUser, 0, len(raw))
	for _, u := range raw {
		console, err := c.consoleAccess(ctx, aws.ToString(u.UserName))
		if err != nil {
			return nil, err
		}
		users = append(users, inventory.CloudUser{
			Scope:            c.scope(""),
			ID:               aws.ToString(u.UserId),
			User:             aws.ToString(u.UserName),
			ConsoleAccess:    console,
			CreateDate:       u.CreateDate,
			PasswordLastUsed: nonZeroTime(u.PasswordLastUsed),
		})
	}
	return users, nil
}

// consoleAccess reports whether the user has a login profile. It is nil when
// the profile could not be read.
func (c *crawl) consoleAccess(ctx context.Context, userName string) (*bool, error) {
	op := opName("iam", "GetLoginProfile", "")
	_, err := call(ctx, c.a, op, func(ctx context.Context) (*iam.GetLoginProfileOutput, error) {
		return c.a.global.iam.GetLoginProfile(ctx, &iam.GetLoginProfileInput{UserName: aws.String(userName)})
	})
	switch {
	case err == nil:
		return aws.Bool(true), nil
	case isErrorCode(err, "NoSuchEntity"):
		return aws.Bool(false), nil
	case ctx.Err() != nil:
		return nil, err
	default:
		log.Debug().Err(err).Str("user", userName).Msg("no login profile")
		return nil, nil
	}
}
