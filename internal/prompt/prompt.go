// Package prompt builds the completion conversations used by each role.
package prompt

import (
	"fmt"
	"strings"

	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/pkg/protocol"
)

var greetings = map[string]string{
	config.RoleUserProxy: "Your role: **Senior User Assistant**, responsible for handling the user's feedback " +
		"and coordinating the analysts' work.",
	config.RoleMarketAnalyst: "Your role: **Senior Quantitative Stock Market Analyst**, responsible for providing " +
		"comprehensive, actionable market insight.",
	config.RoleChiefAnalyst: "Your role: **Chief Analysis Officer**, reviewing the **technical indicator analysis " +
		"reports** submitted by the **market analyst** to ensure their quality, accuracy and strategic value.",
	config.RoleNewsAnalyst: "Your role: **Senior News Analyst**, responsible for assessing how recent news " +
		"affects a stock.",
}

// Greeting returns the one-turn conversation an agent sends on startup.
func Greeting(role string) []protocol.ChatMessage {
	intro, ok := greetings[role]
	if !ok {
		intro = fmt.Sprintf("Your role: **%s**.", role)
	}
	return []protocol.ChatMessage{{
		Role:    protocol.ChatRoleUser,
		Content: intro + " You are now starting work; please greet your user briefly.",
	}}
}

// MarketAnalysisRole is the analyst's system prompt.
func MarketAnalysisRole() string {
	return strings.Join([]string{
		"You are a senior quantitative stock market analyst.",
		"You interpret technical indicators together with price and volume trends",
		"and produce a structured, actionable report: overall trend, momentum,",
		"volatility, key support and resistance, risks, and a clear short-term outlook.",
		"Cite the indicator values you rely on.",
	}, " ")
}

// MarketAnalysis asks for an analysis of the rendered indicator report.
func MarketAnalysis(ticker string, filter protocol.Filter, indicators string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyse %s over %s using the technical indicators below.\n", ticker, filter)
	b.WriteString("Each indicator carries a direction describing how to read it.\n\n")
	b.WriteString("```yaml\n")
	b.WriteString(indicators)
	if !strings.HasSuffix(indicators, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	return b.String()
}

// MarketAnalysisConversation is the initial analysis exchange.
func MarketAnalysisConversation(ticker string, filter protocol.Filter, indicators string) protocol.ChatHistory {
	return protocol.ChatHistory{
		{Role: protocol.ChatRoleSystem, Content: MarketAnalysisRole()},
		{Role: protocol.ChatRoleUser, Content: MarketAnalysis(ticker, filter, indicators)},
	}
}

// UserFeedback wraps operator feedback as a revision request.
func UserFeedback(feedback string) string {
	return fmt.Sprintf("The user reviewed your analysis and replied:\n\n%s\n\n"+
		"Revise the full analysis to address this feedback.", strings.TrimSpace(feedback))
}

// ChiefReview asks the chief analyst to review a draft.
func ChiefReview(analysis string) string {
	return fmt.Sprintf("Review the following technical analysis report. Check its accuracy, "+
		"whether its conclusions follow from the indicators, and what is missing. "+
		"Give concrete, numbered revision instructions.\n\n---\n%s\n---", analysis)
}

// Revise asks the analyst to apply the chief analyst's review.
func Revise(analysis, review string) string {
	return fmt.Sprintf("Here is your market analysis report:\n\n---\n%s\n---\n\n"+
		"The chief analyst reviewed it:\n\n---\n%s\n---\n\n"+
		"Produce the final revised report addressing every point of the review.", analysis, review)
}

// FeedbackQuestion is shown to the operator for each interactive draft.
func FeedbackQuestion(role string) string {
	return fmt.Sprintf("Please review the %s's analysis. Enter your feedback, or press enter or type 'no' to accept: ", strings.ReplaceAll(role, "_", " "))
}
