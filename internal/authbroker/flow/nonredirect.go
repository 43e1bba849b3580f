package flow

import (
	"context"
	"fmt"

	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/authbroker/errcode"
	"github.com/gorax/gorax/internal/authbroker/provider"
	"github.com/gorax/gorax/internal/authbroker/session"
)

// NonRedirectDriver implements the synchronous, non-redirect auth
// modes: API_KEY, BASIC, JWT, SIGNATURE, TABLEAU, TWO_STEP and BILL
// all share the same shape —
// the caller supplies credential material directly in RawCredentialInput,
// the engine validates its shape, optionally probes it, and upserts
// the connection with no session and no callback.
type NonRedirectDriver struct {
	Mode provider.AuthMode
}

func (d *NonRedirectDriver) Start(ctx context.Context, eng *Engine, desc *provider.Descriptor, cfg *provider.IntegrationConfig, req *StartRequest) (*StartResult, error) {
	creds, err := buildNonRedirectCredentials(d.Mode, req.RawCredentialInput)
	if err != nil {
		return nil, errcode.New(errcode.InvalidConnConfig, err.Error())
	}

	c := &connection.Connection{
		EnvironmentID:     req.EnvironmentID,
		ProviderConfigKey: req.ProviderConfigKey,
		ConnectionID:      req.ConnectionID,
		Provider:          cfg.Provider,
		AuthMode:          d.Mode,
		Credentials:       creds,
		ConnectionConfig:  req.ConnectionConfig,
		Status:            connection.StatusActive,
	}
	c.ClearError()

	if eng.Prober != nil && desc.Proxy != nil && desc.Proxy.Verification != nil {
		if perr := eng.Prober.Verify(ctx, desc, c); perr != nil {
			c.MarkError(perr.Error(), eng.Now())
			if eng.Notifier != nil {
				eng.Notifier.ConnectionFailed(ctx, c, perr.Code, perr)
			}
			return nil, perr
		}
	}

	operation := "creation"
	if existing, err := eng.Connections.Get(ctx, c.EnvironmentID, c.ProviderConfigKey, c.ConnectionID); err == nil && existing != nil {
		operation = "refresh"
	}
	if err := finalizeConnection(ctx, eng, c, operation, desc); err != nil {
		return nil, err
	}
	return &StartResult{Connection: c}, nil
}

func (d *NonRedirectDriver) Finish(ctx context.Context, eng *Engine, desc *provider.Descriptor, cfg *provider.IntegrationConfig, sess *session.Session, req *FinishRequest) (*connection.Connection, error) {
	return nil, fmt.Errorf("%s completes synchronously in Start; Finish is never called", d.Mode)
}

func buildNonRedirectCredentials(mode provider.AuthMode, in map[string]any) (*connection.Credentials, error) {
	c := &connection.Credentials{Mode: mode}
	switch mode {
	case provider.APIKey:
		apiKey, _ := in["api_key"].(string)
		if apiKey == "" {
			return nil, fmt.Errorf("api_key is required")
		}
		c.ApiKey = &connection.ApiKeyCredentials{APIKey: apiKey}
	case provider.Basic:
		username, _ := in["username"].(string)
		password, _ := in["password"].(string)
		if username == "" || password == "" {
			return nil, fmt.Errorf("username and password are required")
		}
		c.Basic = &connection.BasicCredentials{Username: username, Password: password}
	case provider.JWT:
		privateKey, _ := in["private_key"].(string)
		issuer, _ := in["issuer"].(string)
		if privateKey == "" || issuer == "" {
			return nil, fmt.Errorf("private_key and issuer are required")
		}
		privateKeyID, _ := in["private_key_id"].(string)
		subject, _ := in["subject"].(string)
		audience, _ := in["audience"].(string)
		c.Jwt = &connection.JwtCredentials{
			PrivateKeyID: privateKeyID,
			PrivateKey:   privateKey,
			Issuer:       issuer,
			Subject:      subject,
			Audience:     audience,
		}
	case provider.Signature:
		secretKey, _ := in["secret_key"].(string)
		if secretKey == "" {
			return nil, fmt.Errorf("secret_key is required")
		}
		c.Signature = &connection.SignatureCredentials{SecretKey: secretKey}
	case provider.Tableau:
		patName, _ := in["pat_name"].(string)
		patSecret, _ := in["pat_secret"].(string)
		if patName == "" || patSecret == "" {
			return nil, fmt.Errorf("pat_name and pat_secret are required")
		}
		contentURL, _ := in["content_url"].(string)
		c.Tableau = &connection.TableauCredentials{PatName: patName, PatSecret: patSecret, ContentURL: contentURL}
	case provider.TwoStep:
		loginFields, _ := in["login_fields"].(map[string]any)
		c.TwoStep = &connection.TwoStepCredentials{LoginFields: loginFields}
	case provider.Bill:
		devKey, _ := in["dev_key"].(string)
		username, _ := in["username"].(string)
		password, _ := in["password"].(string)
		orgID, _ := in["org_id"].(string)
		if devKey == "" || username == "" || password == "" || orgID == "" {
			return nil, fmt.Errorf("dev_key, username, password and org_id are required")
		}
		c.Bill = &connection.BillCredentials{DevKey: devKey, Username: username, Password: password, OrgID: orgID}
	default:
		return nil, fmt.Errorf("unsupported non-redirect auth mode %q", mode)
	}
	return c, nil
}
