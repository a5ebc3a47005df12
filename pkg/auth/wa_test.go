package auth

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisebound/sentinel/pkg/auth/fake"
	"github.com/wisebound/sentinel/pkg/models"
)

func TestMintRootHasWildcardScope(t *testing.T) {
	root, priv, token, err := MintRoot(time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.WARoleRoot, root.Role)
	assert.Equal(t, []string{"*"}, root.Scopes)
	assert.True(t, root.HasScope(models.ScopeSystemControl))
	assert.NotEmpty(t, priv)
	assert.NotEmpty(t, token)
	assert.Regexp(t, `^wa-\d{4}-\d{2}-\d{2}-[A-Za-z0-9]{6}$`, root.ID)
}

func TestMintChildVerifiesUnderParentKey(t *testing.T) {
	root, priv, _, err := MintRoot(time.Now())
	require.NoError(t, err)

	child, _, err := Mint(root, priv, models.WARoleAuthority, []string{models.ScopeWAMint}, models.WATokenStandard, time.Now())
	require.NoError(t, err)

	assert.True(t, VerifyParentSignature(child, root))
}

func TestMintRejectsWildcardForNonRoot(t *testing.T) {
	root, priv, _, err := MintRoot(time.Now())
	require.NoError(t, err)

	_, _, err = Mint(root, priv, models.WARoleAuthority, []string{"*"}, models.WATokenStandard, time.Now())
	require.Error(t, err)
}

func TestMintRejectsScopeParentDoesNotHave(t *testing.T) {
	root, priv, _, err := MintRoot(time.Now())
	require.NoError(t, err)
	limitedParent := *root
	limitedParent.Scopes = []string{models.ScopeReadAny}

	_, _, err = Mint(&limitedParent, priv, models.WARoleObserver, []string{models.ScopeWAMint}, models.WATokenStandard, time.Now())
	require.Error(t, err)
}

func TestVerifyHierarchyWalksToRoot(t *testing.T) {
	root, rootPriv, _, err := MintRoot(time.Now())
	require.NoError(t, err)
	authority, authorityPriv, _, err := Mint(root, rootPriv, models.WARoleAuthority, []string{models.ScopeWAMint}, models.WATokenStandard, time.Now())
	require.NoError(t, err)
	observer, _, err := Mint(authority, authorityPriv, models.WARoleObserver, []string{models.ScopeReadAny}, models.WATokenStandard, time.Now())
	require.NoError(t, err)

	lookup := map[string]*models.WACertificate{root.ID: root, authority.ID: authority}
	ok := VerifyHierarchy(observer, func(id string) (*models.WACertificate, bool) {
		c, found := lookup[id]
		return c, found
	})
	assert.True(t, ok)
}

func TestResolverResolvesActiveToken(t *testing.T) {
	repo := fake.New()
	root, _, token, err := MintRoot(time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Put(context.Background(), root))

	resolver := NewResolver(repo)
	authzCtx, err := resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, root.ID, authzCtx.WAID)
	assert.True(t, authzCtx.HasScope(models.ScopeSystemControl))
}

func TestResolverRejectsUnknownToken(t *testing.T) {
	repo := fake.New()
	resolver := NewResolver(repo)
	_, err := resolver.Resolve(context.Background(), "wa_sk_deadbeef")
	require.Error(t, err)
}

func TestResolverRejectsDeactivatedCertificate(t *testing.T) {
	repo := fake.New()
	root, _, token, err := MintRoot(time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Put(context.Background(), root))
	require.NoError(t, repo.Deactivate(context.Background(), root.ID))

	resolver := NewResolver(repo)
	_, err = resolver.Resolve(context.Background(), token)
	require.Error(t, err)
}

func TestIssueObserverTokenScopedToReadAndMessage(t *testing.T) {
	repo := fake.New()
	root, priv, _, err := MintRoot(time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Put(context.Background(), root))

	cert, token, err := IssueObserverToken(context.Background(), repo, root, priv, "c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{models.ScopeReadAny, models.ScopeWriteMessage}, cert.Scopes)
	assert.NotEmpty(t, token)
	require.NotNil(t, cert.ChannelBinding)
	assert.Equal(t, "c1", *cert.ChannelBinding)
}

func TestVerifyEmergencyCommandRequiresRootOrAuthority(t *testing.T) {
	repo := fake.New()
	root, rootPriv, _, err := MintRoot(time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Put(context.Background(), root))
	observer, observerPriv, err := Mint(root, rootPriv, models.WARoleObserver, []string{models.ScopeReadAny}, models.WATokenStandard, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Put(context.Background(), observer))

	payload := []byte("shutdown: maintenance")
	goodSig := ed25519.Sign(rootPriv, payload)
	require.NoError(t, VerifyEmergencyCommand(context.Background(), repo, SignedCommand{
		Payload: payload, Signature: goodSig, SignerID: root.ID,
	}))

	badSig := ed25519.Sign(observerPriv, payload)
	err = VerifyEmergencyCommand(context.Background(), repo, SignedCommand{
		Payload: payload, Signature: badSig, SignerID: observer.ID,
	})
	require.Error(t, err)
}
