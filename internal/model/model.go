// Package model declares the built-in record types: people and their rights,
// articles with comments, and free-form tags attached to any record.
package model

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/alphadevx/alpha-sub000/pkg/record"
	"github.com/alphadevx/alpha-sub000/pkg/types"
)

const (
	PersonType         = "Person"
	RightsType         = "Rights"
	ArticleType        = "Article"
	ArticleCommentType = "ArticleComment"
	TagType            = "Tag"

	ArticleSections = "article_section"
)

// Person states.
const (
	StateActive   = "Active"
	StateDisabled = "Disabled"
)

const (
	hashPrefix = "scrypt"
	saltSize   = 16
	keySize    = 32
)

// scrypt cost parameters; tests lower N.
var scryptN, scryptR, scryptP = 1 << 15, 8, 1

func requiredText() types.Type { return types.NewRequiredSmallText() }
func smallText() types.Type    { return types.NewSmallText() }

func email() types.Type {
	t := types.NewSmallText()
	_ = t.SetRule(`^$|^[^@\s]+@[^@\s]+\.[^@\s]+$`, "not a valid email address")
	return t
}

// Descriptors returns the built-in types in dependency order.
func Descriptors() []*record.Descriptor {
	return []*record.Descriptor{
		{
			Name: RightsType,
			Fields: []record.FieldSpec{
				{Name: "name", New: requiredText},
				{Name: "members", New: func() types.Type { return types.NewManyToMany(PersonType, RightsType, "username") }},
			},
			Unique: [][]string{{"name"}},
		},
		{
			Name: PersonType,
			Fields: []record.FieldSpec{
				{Name: "username", New: requiredText},
				{Name: "email", New: email},
				{Name: "password", New: smallText, Set: setPassword},
				{Name: "state", New: func() types.Type { return types.NewEnum(StateActive, StateDisabled) }},
				{Name: "url", New: smallText},
				{Name: "rights", New: func() types.Type { return types.NewManyToMany(PersonType, RightsType, "name") }},
			},
			Unique:          [][]string{{"username"}},
			MaintainHistory: true,
		},
		{
			Name: ArticleType,
			Fields: []record.FieldSpec{
				{Name: "title", New: requiredText},
				{Name: "description", New: func() types.Type { return types.NewText() }},
				{Name: "content", New: func() types.Type { return types.NewLargeText() }},
				{Name: "author", New: smallText},
				{Name: "published", New: func() types.Type { return types.NewBoolean() }},
				{Name: "section", New: func() types.Type { return types.NewDEnum(ArticleSections) }},
				{Name: "comments", New: func() types.Type { return types.NewOneToMany(ArticleCommentType, "article_oid", "content") }},
				{Name: "tags", New: func() types.Type {
					return types.NewOneToMany(TagType, "tagged_oid", "content").Cascade().Scope("tagged_class", ArticleType)
				}},
			},
			Unique:          [][]string{{"title"}},
			MaintainHistory: true,
		},
		{
			Name: ArticleCommentType,
			Fields: []record.FieldSpec{
				{Name: "content", New: func() types.Type {
					t := types.NewText()
					_ = t.SetRule(`\S`, types.RequiredHelper)
					return t
				}},
				{Name: "article_oid", New: func() types.Type { return types.NewManyToOne(ArticleType, "title") }},
			},
		},
		{
			Name: TagType,
			Fields: []record.FieldSpec{
				{Name: "tagged_class", New: requiredText},
				{Name: "tagged_oid", New: func() types.Type { return types.NewInteger() }},
				{Name: "content", New: requiredText},
			},
			Unique: [][]string{{"tagged_class", "tagged_oid", "content"}},
		},
	}
}

// Register adds the built-in types to store.
func Register(store *record.Store) error {
	return store.Register(Descriptors()...)
}

// MakeTables creates every missing built-in table and its indexes.
func MakeTables(ctx context.Context, store *record.Store) error {
	for _, d := range Descriptors() {
		rec, err := store.New(d.Name)
		if err != nil {
			return err
		}
		exists, err := rec.CheckTableExists(ctx, false)
		if err != nil {
			return err
		}
		if exists {
			if err := rec.CheckIndexes(ctx); err != nil {
				return err
			}
			continue
		}
		if err := rec.MakeTable(ctx); err != nil {
			return fmt.Errorf("make table %s: %w", d.Name, err)
		}
	}
	return nil
}

// setPassword stores a salted scrypt hash instead of the plain text. An
// empty value clears the password.
func setPassword(r *record.Record, plain string) error {
	f, ok := r.Value("password")
	if !ok {
		return fmt.Errorf("%s has no password field", r.TypeName())
	}
	if plain == "" {
		return f.SetValue("")
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	key, err := scrypt.Key([]byte(plain), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return f.SetValue(strings.Join([]string{hashPrefix, hex.EncodeToString(salt), hex.EncodeToString(key)}, "$"))
}

// CheckPassword reports whether plain matches the stored hash of person.
func CheckPassword(person *record.Record, plain string) (bool, error) {
	stored, err := person.Get("password")
	if err != nil {
		return false, err
	}
	parts := strings.Split(stored, "$")
	if len(parts) != 3 || parts[0] != hashPrefix {
		return false, nil
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	want, err := hex.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}
	got, err := scrypt.Key([]byte(plain), salt, scryptN, scryptR, scryptP, len(want))
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// AddTag attaches a tag to a persisted record of any type.
func AddTag(ctx context.Context, target *record.Record, content string) (*record.Record, error) {
	if target.IsTransient() {
		return nil, fmt.Errorf("tag %s: record is transient", target.TypeName())
	}
	tag, err := target.Store().New(TagType)
	if err != nil {
		return nil, err
	}
	values := map[string]string{
		"tagged_class": target.TypeName(),
		"tagged_oid":   strconv.FormatInt(target.ID(), 10),
		"content":      strings.ToLower(strings.TrimSpace(content)),
	}
	for k, v := range values {
		if err := tag.Set(k, v); err != nil {
			return nil, err
		}
	}
	if err := tag.Save(ctx); err != nil {
		return nil, err
	}
	return tag, nil
}
