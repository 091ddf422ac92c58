package auth_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/jonwraymond/authchain/auth"
	"github.com/jonwraymond/authchain/store"
)

func ExampleParseAccessID() {
	id, err := auth.ParseAccessID("user:corp/u-1001")
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("Type:", id.Type)
	fmt.Println("Realm:", id.Realm)
	fmt.Println("UniqueID:", id.UniqueID)
	// Output:
	// Type: user
	// Realm: corp
	// UniqueID: u-1001
}

func ExampleChain_Login() {
	users := store.NewMemoryStore("corp")
	hash, _ := store.HashPassword("secret")
	_ = users.AddUser(store.User{
		Name:         "alice",
		UniqueID:     "u-1001",
		DisplayName:  "Alice Example",
		PasswordHash: hash,
	})

	chain := auth.NewChain(
		auth.WithName("example"),
		auth.WithStrategy("assertion", func() (auth.Strategy, error) {
			return auth.NewAssertionStrategy(users, auth.AssertionOptions{}), nil
		}),
		auth.WithStrategy("password", func() (auth.Strategy, error) {
			return auth.NewPasswordStrategy(users, auth.PasswordOptions{}), nil
		}),
	)

	sess, err := chain.Login(context.Background(), &auth.LoginRequest{
		Credentials: auth.NewStaticChannel(auth.PasswordCredential{Username: "alice", Password: "secret"}),
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("Committed by:", sess.CommittedBy)
	fmt.Println("Principal:", sess.Subject.Principal.Name)
	fmt.Println("Access id:", sess.Subject.AccessID())

	_, err = chain.Login(context.Background(), &auth.LoginRequest{
		Credentials: auth.NewStaticChannel(auth.PasswordCredential{Username: "alice", Password: "wrong"}),
	})
	fmt.Println("Wrong password:", auth.ReasonOf(err))
	// Output:
	// Committed by: password
	// Principal: Alice Example
	// Access id: user:corp/u-1001
	// Wrong password: bad_credentials
}

func ExampleNewAssertionStrategy() {
	chain := auth.NewChain(auth.WithStrategy("assertion", func() (auth.Strategy, error) {
		return auth.NewAssertionStrategy(nil, auth.AssertionOptions{}), nil
	}))

	sso := auth.MapSSOSink{}
	sess, err := chain.Login(context.Background(), &auth.LoginRequest{
		Credentials: auth.NewStaticChannel(auth.NewAssertion(
			auth.PropUniqueID, "U123",
			auth.PropSecurityName, "bob",
			auth.PropRealm, "partner",
			auth.PropCacheKey, "session-42",
		)),
		SSO: sso,
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("Access id:", sess.Subject.AccessID())
	fmt.Println("SSO cache key:", sso[auth.SSOCacheKey])
	// Output:
	// Access id: user:partner/U123
	// SSO cache key: session-42
}

func ExampleMiddleware() {
	chain := auth.NewChain(auth.WithStrategy("assertion", func() (auth.Strategy, error) {
		return auth.NewAssertionStrategy(nil, auth.AssertionOptions{}), nil
	}))
	cfg := auth.HTTPConfig{AssertionHeaderPrefix: "X-Trusted-", Realm: "api"}

	handler := auth.Middleware(chain, cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "hello", auth.AccessIDFromContext(r.Context()))
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Trusted-uniqueId", "server:collective/node1")
	r.Header.Set("X-Trusted-securityName", "node1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	fmt.Print(w.Body.String())

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	fmt.Println(w.Code, w.Header().Get("WWW-Authenticate"))
	// Output:
	// hello server:collective/node1
	// 401 Basic realm="api"
}
