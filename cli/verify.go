package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/swedenconnect/sig-validation-base/config"
	"github.com/swedenconnect/sig-validation-base/sigval"
)

// VerifyOptions contains options for the verify command.
type VerifyOptions struct {
	ConfigFile string
	Timeout    time.Duration
	JSON       bool
	Verbose    bool
}

// VerifyCommand implements the 'verify' command.
func VerifyCommand(args []string) {
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)

	var opts VerifyOptions

	verifyFlags.StringVar(&opts.ConfigFile, "config", "", "Validation configuration file (YAML)")
	verifyFlags.DurationVar(&opts.Timeout, "timeout", 60*time.Second, "Overall validation timeout")
	verifyFlags.BoolVar(&opts.JSON, "json", false, "Output results in JSON format")
	verifyFlags.BoolVar(&opts.Verbose, "verbose", false, "Show detailed validation information")

	verifyFlags.Usage = func() {
		fmt.Printf("Usage: %s verify -config <file> [options] <document>\n\n", os.Args[0])
		fmt.Println("Validate the signature(s) of an XML or PDF document.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  document   XML or PDF file to validate")
		fmt.Println("")
		fmt.Println("Options:")
		verifyFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s verify -config sigval.yaml document.xml\n", os.Args[0])
		fmt.Printf("  %s verify -config sigval.yaml -json document.pdf\n", os.Args[0])
	}

	if err := verifyFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if opts.ConfigFile == "" || len(verifyFlags.Args()) < 1 {
		verifyFlags.Usage()
		osExit(1)
	}

	inputPath := verifyFlags.Arg(0)

	output, err := verifyDocument(inputPath, &opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	if opts.JSON {
		outputJSON(output)
	} else {
		outputText(output, opts.Verbose)
	}

	if !output.Document.CompleteSuccess {
		osExit(1)
	}
}

// VerifyOutput is the complete validation output: the document-level verdict
// and the per-signature results.
type VerifyOutput struct {
	Document   DocumentConclusion `json:"document"`
	Signatures []*SignatureResult `json:"signatures"`
}

// DocumentConclusion is the JSON form of the document-level verdict.
type DocumentConclusion struct {
	Signed              bool   `json:"signed"`
	SignatureCount      int    `json:"signature_count"`
	ValidSignatureCount int    `json:"valid_signature_count"`
	CoversWholeDocument bool   `json:"covers_whole_document"`
	CompleteSuccess     bool   `json:"complete_success"`
	Status              string `json:"status"`
}

// SignatureResult is a JSON-serializable validation result for a single
// signature.
type SignatureResult struct {
	SignatureIndex      int                `json:"signature_index"`
	Name                string             `json:"name,omitempty"`
	Status              string             `json:"status"`
	Message             string             `json:"message,omitempty"`
	SignatureAlgorithm  string             `json:"signature_algorithm,omitempty"`
	ClaimedSigningTime  string             `json:"claimed_signing_time,omitempty"`
	VerifiedSigningTime string             `json:"verified_signing_time,omitempty"`
	EtsiAdes            bool               `json:"etsi_ades"`
	CoversDocument      bool               `json:"covers_document"`
	ValidatedBySVT      bool               `json:"validated_by_svt"`
	Certificate         *CertificateInfo   `json:"certificate,omitempty"`
	TimeEvidence        []TimeEvidenceInfo `json:"time_evidence,omitempty"`
	Policies            []PolicyInfo       `json:"policies,omitempty"`
	Error               string             `json:"error,omitempty"`
}

// CertificateInfo contains signer certificate information for JSON output.
type CertificateInfo struct {
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	Serial    string `json:"serial"`
	NotBefore string `json:"not_before"`
	NotAfter  string `json:"not_after"`
	IsExpired bool   `json:"is_expired"`
}

// TimeEvidenceInfo describes one verified timestamp or token issuance.
type TimeEvidenceInfo struct {
	Time   string `json:"time"`
	Type   string `json:"type"`
	Issuer string `json:"issuer,omitempty"`
	Passed bool   `json:"passed"`
}

// PolicyInfo describes one policy verdict.
type PolicyInfo struct {
	Policy     string `json:"policy"`
	Conclusion string `json:"conclusion"`
	Message    string `json:"message,omitempty"`
}

// verifyDocument loads the configuration, detects the document format and
// runs validation.
func verifyDocument(inputPath string, opts *VerifyOptions) (*VerifyOutput, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	stack, err := config.Build(cfg)
	if err != nil {
		return nil, err
	}
	defer stack.Logger.Sync()

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	var (
		conclusion *sigval.SignedDocumentValidationResult
		signatures []*SignatureResult
	)
	if isPDF(data) {
		doc, results, err := stack.PDF.ValidateDocument(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		conclusion = doc
		for i, r := range results {
			signatures = append(signatures, newSignatureResult(i+1, r.Name, &r.Result))
		}
	} else {
		doc, results, err := stack.XML.ValidateDocument(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		conclusion = doc
		for i, r := range results {
			signatures = append(signatures, newSignatureResult(i+1, r.SignatureID, &r.Result))
		}
	}

	return &VerifyOutput{
		Document: DocumentConclusion{
			Signed:              conclusion.Signed,
			SignatureCount:      conclusion.SignatureCount,
			ValidSignatureCount: conclusion.ValidSignatureCount,
			CoversWholeDocument: conclusion.ValidSignatureSignsWholeDocument,
			CompleteSuccess:     conclusion.CompleteSuccess,
			Status:              conclusion.StatusMessage,
		},
		Signatures: signatures,
	}, nil
}

// isPDF reports whether the data looks like a PDF file. The header is
// allowed some leading garbage, matching the reader's tolerance.
func isPDF(data []byte) bool {
	probe := data
	if len(probe) > 100 {
		probe = probe[:100]
	}
	return bytes.Contains(probe, []byte("%PDF-"))
}

// newSignatureResult converts a core validation result to its JSON form.
func newSignatureResult(index int, name string, r *sigval.Result) *SignatureResult {
	result := &SignatureResult{
		SignatureIndex:     index,
		Name:               name,
		Status:             r.Status.String(),
		Message:            r.Message,
		SignatureAlgorithm: r.SignatureAlgorithm,
		EtsiAdes:           r.EtsiAdes,
		CoversDocument:     r.CoversDocument,
		ValidatedBySVT:     r.ValidatedBySVT,
	}
	if !r.ClaimedSigningTime.IsZero() {
		result.ClaimedSigningTime = r.ClaimedSigningTime.Format(time.RFC3339)
	}
	if t := r.VerifiedSigningTime(); !t.IsZero() {
		result.VerifiedSigningTime = t.Format(time.RFC3339)
	}
	if r.Err != nil {
		result.Error = r.Err.Error()
	}
	if cert := r.SignerCertificate; cert != nil {
		result.Certificate = &CertificateInfo{
			Subject:   cert.Subject.String(),
			Issuer:    cert.Issuer.String(),
			Serial:    cert.SerialNumber.String(),
			NotBefore: cert.NotBefore.Format(time.RFC3339),
			NotAfter:  cert.NotAfter.Format(time.RFC3339),
			IsExpired: time.Now().After(cert.NotAfter),
		}
	}
	for _, tv := range r.TimeValidation {
		result.TimeEvidence = append(result.TimeEvidence, TimeEvidenceInfo{
			Time:   time.Unix(tv.Claims.Time, 0).UTC().Format(time.RFC3339),
			Type:   tv.Claims.Type,
			Issuer: tv.Claims.Issuer,
			Passed: tv.Passed(),
		})
	}
	for _, pv := range r.PolicyResults {
		result.Policies = append(result.Policies, PolicyInfo{
			Policy:     pv.Policy,
			Conclusion: string(pv.Conclusion),
			Message:    pv.Message,
		})
	}
	return result
}

// outputJSON outputs the results in JSON format.
func outputJSON(output *VerifyOutput) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		osExit(1)
	}
}

// outputText outputs the results in human-readable text format.
func outputText(output *VerifyOutput, verbose bool) {
	fmt.Printf("Signature Validation Results\n")
	fmt.Printf("============================\n\n")

	fmt.Printf("Document: %s\n", output.Document.Status)
	fmt.Printf("  Signatures: %d (%d valid)\n",
		output.Document.SignatureCount, output.Document.ValidSignatureCount)
	if output.Document.Signed {
		fmt.Printf("  Covers whole document: %s\n", boolToStatus(output.Document.CoversWholeDocument))
	}
	fmt.Println()

	for _, result := range output.Signatures {
		fmt.Printf("Signature #%d\n", result.SignatureIndex)
		fmt.Printf("------------\n")

		statusIcon := getStatusIcon(result.Status)
		fmt.Printf("  Status: %s %s\n", statusIcon, result.Status)
		if result.Message != "" {
			fmt.Printf("  Message: %s\n", result.Message)
		}
		if result.Name != "" {
			fmt.Printf("  Name: %s\n", result.Name)
		}
		if result.Certificate != nil {
			fmt.Printf("  Signer: %s\n", result.Certificate.Subject)
		}
		if result.ValidatedBySVT {
			fmt.Printf("  Validated through signature validation token\n")
		}
		if result.VerifiedSigningTime != "" {
			fmt.Printf("  Verified Signing Time: %s\n", result.VerifiedSigningTime)
		} else if result.ClaimedSigningTime != "" {
			fmt.Printf("  Claimed Signing Time: %s (unverified)\n", result.ClaimedSigningTime)
		}

		if verbose {
			if result.SignatureAlgorithm != "" {
				fmt.Printf("  Algorithm: %s\n", result.SignatureAlgorithm)
			}
			fmt.Printf("  AdES Profile: %v\n", result.EtsiAdes)
			fmt.Printf("  Covers Document: %v\n", result.CoversDocument)

			if result.Certificate != nil {
				fmt.Printf("\n  Certificate Details:\n")
				fmt.Printf("    Subject: %s\n", result.Certificate.Subject)
				fmt.Printf("    Issuer: %s\n", result.Certificate.Issuer)
				fmt.Printf("    Serial: %s\n", result.Certificate.Serial)
				fmt.Printf("    Valid: %s to %s\n", result.Certificate.NotBefore, result.Certificate.NotAfter)
				if result.Certificate.IsExpired {
					fmt.Printf("    WARNING: Certificate is expired!\n")
				}
			}

			if len(result.TimeEvidence) > 0 {
				fmt.Printf("\n  Time Evidence:\n")
				for _, tv := range result.TimeEvidence {
					fmt.Printf("    - %s (%s) %s\n", tv.Time, tv.Type, boolToStatus(tv.Passed))
				}
			}

			if len(result.Policies) > 0 {
				fmt.Printf("\n  Policy Verdicts:\n")
				for _, pv := range result.Policies {
					fmt.Printf("    - %s: %s", pv.Policy, pv.Conclusion)
					if pv.Message != "" {
						fmt.Printf(" (%s)", pv.Message)
					}
					fmt.Println()
				}
			}
		}

		if result.Error != "" {
			fmt.Printf("\n  Error: %s\n", result.Error)
		}

		fmt.Println()
	}
}

// getStatusIcon returns an icon for the status.
func getStatusIcon(status string) string {
	if status == "success" {
		return "[OK]"
	}
	return "[FAIL]"
}

// boolToStatus converts a boolean to a status string.
func boolToStatus(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
