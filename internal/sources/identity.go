package sources

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/pskrzyns/bedrockdash/internal/core"
)

// IAMAPI is the slice of the IAM client the identity source uses.
type IAMAPI interface {
	ListGroups(ctx context.Context, params *iam.ListGroupsInput, optFns ...func(*iam.Options)) (*iam.ListGroupsOutput, error)
	GetGroup(ctx context.Context, params *iam.GetGroupInput, optFns ...func(*iam.Options)) (*iam.GetGroupOutput, error)
	ListUserTags(ctx context.Context, params *iam.ListUserTagsInput, optFns ...func(*iam.Options)) (*iam.ListUserTagsOutput, error)
}

// IdentitySource discovers billable users and their team from IAM groups.
// Groups carrying the configured prefix map to teams; the remainder of the
// group name is the team identifier.
type IdentitySource struct {
	client      IAMAPI
	groupPrefix string
}

func NewIdentity(client IAMAPI, groupPrefix string) *IdentitySource {
	return &IdentitySource{client: client, groupPrefix: groupPrefix}
}

func (s *IdentitySource) Name() core.Provenance { return core.ProvenanceIAM }

func (s *IdentitySource) Fetch(ctx context.Context) ([]core.User, error) {
	groups, err := s.listTeamGroups(ctx)
	if err != nil {
		return nil, err
	}

	groupNames := make([]string, 0, len(groups))
	for name := range groups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)

	byName := make(map[string]core.User)
	for _, groupName := range groupNames {
		members, err := s.groupMembers(ctx, groupName)
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			// A user in several team groups stays attributed to the first
			// team in lexical group order.
			if _, ok := byName[member]; ok {
				continue
			}
			tags, err := s.userTags(ctx, member)
			if err != nil {
				return nil, err
			}
			byName[member] = core.User{Name: member, Team: groups[groupName], Tags: tags}
		}
	}

	users := make([]core.User, 0, len(byName))
	for _, u := range byName {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

// listTeamGroups returns groupName -> team for every prefixed group, in
// lexical order so multi-group membership resolves deterministically.
func (s *IdentitySource) listTeamGroups(ctx context.Context) (map[string]string, error) {
	input := &iam.ListGroupsInput{}
	groups := make(map[string]string)
	for {
		out, err := s.client.ListGroups(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("identity: list groups: %w", err)
		}
		for _, g := range out.Groups {
			name := aws.ToString(g.GroupName)
			if strings.HasPrefix(name, s.groupPrefix) {
				groups[name] = strings.TrimPrefix(name, s.groupPrefix)
			}
		}
		if !out.IsTruncated {
			break
		}
		input.Marker = out.Marker
	}
	return groups, nil
}

func (s *IdentitySource) groupMembers(ctx context.Context, group string) ([]string, error) {
	input := &iam.GetGroupInput{GroupName: aws.String(group)}
	var members []string
	for {
		out, err := s.client.GetGroup(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("identity: get group %s: %w", group, err)
		}
		for _, u := range out.Users {
			members = append(members, aws.ToString(u.UserName))
		}
		if !out.IsTruncated {
			break
		}
		input.Marker = out.Marker
	}
	return members, nil
}

func (s *IdentitySource) userTags(ctx context.Context, user string) (map[string]string, error) {
	out, err := s.client.ListUserTags(ctx, &iam.ListUserTagsInput{UserName: aws.String(user)})
	if err != nil {
		return nil, fmt.Errorf("identity: tags for %s: %w", user, err)
	}
	if len(out.Tags) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(out.Tags))
	for _, tag := range out.Tags {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return tags, nil
}
