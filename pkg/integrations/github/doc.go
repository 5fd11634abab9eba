// Package github is a small client for the GitHub GraphQL API.
//
// # Usage
//
//	client := github.NewClient(httputil.NewFetcher(), github.TokenFromEnv())
//	resp, err := client.Query(ctx, `{ r0: repository(owner: "o", name: "r") { id } }`, nil)
//	if err != nil {
//	    return err
//	}
//	if resp.IsNull("r0") {
//	    // repository does not exist or is not visible to the token
//	}
//
// [Client.Query] returns the "data" object split by top-level field so that
// callers batching many aliased sub-queries can decode each one separately,
// for example with [DecodeReleasePage].
//
// # Authentication
//
// GitHub requires a token for GraphQL. [TokenFromEnv] reads $GITHUB_TOKEN;
// it is sent as a bearer token.
//
// # Repository references
//
// [ParseRepoRef] validates "owner/name" strings against GitHub's naming
// rules before they are interpolated into a query.
package github
