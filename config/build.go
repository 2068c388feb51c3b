package config

import (
	"crypto/x509"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/swedenconnect/sig-validation-base/chain"
	"github.com/swedenconnect/sig-validation-base/crlcache"
	"github.com/swedenconnect/sig-validation-base/keys"
	"github.com/swedenconnect/sig-validation-base/pdfsig"
	"github.com/swedenconnect/sig-validation-base/sigval"
	"github.com/swedenconnect/sig-validation-base/svt"
	"github.com/swedenconnect/sig-validation-base/validity"
	"github.com/swedenconnect/sig-validation-base/xmlsig"
)

// Stack is the assembled validator setup described by a Config.
type Stack struct {
	// Logger is the logger the components share.
	Logger *zap.Logger

	// TrustAnchors holds the accepted anchors.
	TrustAnchors *chain.TrustAnchorStore

	// CertValidator builds and validates trust paths.
	CertValidator *chain.Validator

	// XML validates signed XML documents.
	XML *xmlsig.DocumentValidator

	// PDF validates signed PDF documents.
	PDF *pdfsig.DocumentValidator
}

// Build assembles the validator stack from the configuration.
func Build(cfg *Config) (*Stack, error) {
	log, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	anchors, err := loadAnchors(cfg.Trust)
	if err != nil {
		return nil, err
	}
	anchorStore := chain.NewTrustAnchorStore(anchors...)

	certStore := chain.NewCertStore()
	if len(cfg.Trust.IntermediateFiles) > 0 {
		intermediates, err := keys.LoadCertsFromPemDerFiles(cfg.Trust.IntermediateFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to load intermediates: %w", err)
		}
		certStore.AddAll(intermediates)
	}
	if cfg.SVT.Enabled && len(cfg.SVT.IssuerCertFiles) > 0 {
		issuers, err := keys.LoadCertsFromPemDerFiles(cfg.SVT.IssuerCertFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to load token issuer certs: %w", err)
		}
		certStore.AddAll(issuers)
	}

	builder := chain.NewBuilder(anchorStore, certStore)
	validatorOpts := []chain.ValidatorOption{chain.WithValidatorLogger(log)}
	if cfg.Revocation.Mode != RevocationDisabled {
		checker := buildStatusChecker(cfg.Revocation, log)
		trustPath := validity.NewTrustPathChecker(checker,
			validity.WithMaxDepth(cfg.Revocation.ResponderDepth),
			validity.WithTrustPathLogger(log))
		validatorOpts = append(validatorOpts,
			chain.WithStatusChecker(checker),
			chain.WithTrustPathVerifier(trustPath))
	}
	certValidator := chain.NewValidator(builder, validatorOpts...)

	var policyOpts []sigval.BasicPolicyOption
	if cfg.Policy.Name != "" {
		policyOpts = append(policyOpts, sigval.WithPolicyName(cfg.Policy.Name))
	}
	policy := sigval.NewBasicPolicyValidator(policyOpts...)

	var svtValidator *svt.Validator
	if cfg.SVT.Enabled {
		svtValidator = svt.NewValidator(
			svt.WithCertificateValidator(certValidator),
			svt.WithLogger(log))
	}

	elementOpts := []xmlsig.ElementValidatorOption{
		xmlsig.WithCertificateValidator(certValidator),
		xmlsig.WithPolicyValidator(policy),
		xmlsig.WithLogger(log),
	}
	pdfOpts := []pdfsig.Option{
		pdfsig.WithCertificateValidator(certValidator),
		pdfsig.WithPolicyValidator(policy),
		pdfsig.WithLogger(log),
	}
	if svtValidator != nil {
		elementOpts = append(elementOpts, xmlsig.WithSVTValidator(svtValidator))
		pdfOpts = append(pdfOpts, pdfsig.WithSVTValidator(svtValidator))
	}

	return &Stack{
		Logger:        log,
		TrustAnchors:  anchorStore,
		CertValidator: certValidator,
		XML: xmlsig.NewDocumentValidator(
			xmlsig.NewElementValidator(elementOpts...),
			xmlsig.WithDocumentLogger(log)),
		PDF: pdfsig.NewDocumentValidator(pdfOpts...),
	}, nil
}

// NewLogger builds a zap logger from the logging configuration.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, NewConfigError("logging.level", fmt.Sprintf("unknown level %q", cfg.Level))
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.OutputPaths = []string{"stderr"}

	log, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, nil
}

// loadAnchors collects trust anchors from all configured sources.
func loadAnchors(cfg TrustConfig) ([]*x509.Certificate, error) {
	var anchors []*x509.Certificate
	if len(cfg.AnchorFiles) > 0 {
		certs, err := keys.LoadCertsFromPemDerFiles(cfg.AnchorFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust anchors: %w", err)
		}
		anchors = append(anchors, certs...)
	}
	for _, store := range cfg.PKCS12Stores {
		certs, err := keys.LoadTrustStoreFromPKCS12(store.File, store.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust store %s: %w", store.File, err)
		}
		anchors = append(anchors, certs...)
	}
	return anchors, nil
}

// buildStatusChecker assembles the CRL and OCSP sources per the revocation
// mode.
func buildStatusChecker(cfg RevocationConfig, log *zap.Logger) *validity.Checker {
	var crl *validity.CRLChecker
	if cfg.Mode == RevocationBoth || cfg.Mode == RevocationCRLOnly {
		dlConfig := crlcache.DefaultDownloaderConfig()
		dlConfig.ConnectTimeout = cfg.ConnectTimeout.Std()
		dlConfig.ReadTimeout = cfg.ReadTimeout.Std()
		downloader := crlcache.NewHTTPDownloader(dlConfig, log)

		cacheOpts := []crlcache.Option{crlcache.WithLogger(log)}
		if cfg.CacheDir != "" {
			cacheOpts = append(cacheOpts, crlcache.WithDirectory(cfg.CacheDir))
		}
		cache := crlcache.New(downloader, cacheOpts...)
		crl = validity.NewCRLChecker(cache, validity.WithCRLLogger(log))
	}

	var ocsp *validity.OCSPChecker
	if cfg.Mode == RevocationBoth || cfg.Mode == RevocationOCSPOnly {
		requester := validity.NewHTTPRequester(nil, cfg.OCSPTimeout.Std())
		ocsp = validity.NewOCSPChecker(requester, validity.WithOCSPLogger(log))
	}

	checkerOpts := []validity.CheckerOption{validity.WithCheckerLogger(log)}
	if cfg.SingleThreaded {
		checkerOpts = append(checkerOpts, validity.WithSingleThreaded())
	}
	return validity.NewChecker(crl, ocsp, checkerOpts...)
}
