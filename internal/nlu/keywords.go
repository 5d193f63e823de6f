package nlu

import "github.com/sahaya-ai/sahaya/internal/conv"

// intentKeywords maps each intent category to its trigger phrases, English
// plus Hindi as spoken by the driver base. Categories are scanned in
// declaration order and the first phrase hit wins, so the severe
// categories sit on top: a sentence like "agent se baat karao, payment
// problem hai" classifies as an escalation request, not a payment issue.
//
// Phrases must be lowercase; matching is substring over the lowercased
// utterance.
var intentKeywords = []struct {
	intent  conv.Intent
	phrases []string
}{
	{conv.IntentEscalationRequest, []string{
		"agent", "human", "person", "manager", "supervisor", "speak to someone",
		"real person", "customer care", "support", "help me", "transfer",
		"connect me", "talk to", "want human", "need human", "real human",
		"एजेंट", "इंसान", "मैनेजर", "सुपरवाइजर", "कस्टमर केयर",
		"ह्यूमन", "बात करवाओ", "बात कराओ", "किसी से बात", "असली इंसान",
		"सपोर्ट", "मदद करो", "हेल्प", "ट्रांसफर", "कनेक्ट करो",
		"कस्टमर सर्विस", "सर्विस", "किसी को बुलाओ", "मैनेजर से बात",
	}},
	{conv.IntentFraudReport, []string{
		"fraud", "scam", "cheat", "stolen", "hack", "unauthorized", "fake",
		"धोखा", "फ्रॉड", "चोरी", "हैक",
	}},
	{conv.IntentHarassment, []string{
		"harassment", "harass", "threaten", "abuse", "misbehave", "inappropriate",
		"उत्पीड़न", "धमकी", "गाली", "बदतमीजी",
	}},
	{conv.IntentSafetyConcern, []string{
		"accident", "emergency", "unsafe", "danger", "hurt", "injured", "police",
		"दुर्घटना", "इमरजेंसी", "खतरा", "पुलिस", "चोट",
	}},
	{conv.IntentComplaint, []string{
		"complaint", "complain", "problem", "issue", "wrong", "bad", "terrible",
		"शिकायत", "समस्या", "गलत", "खराब",
	}},
	{conv.IntentPaymentIssue, []string{
		"payment", "refund", "money", "charge", "deduct", "pay", "bill",
		"पेमेंट", "रिफंड", "पैसे", "चार्ज", "बिल",
	}},
	{conv.IntentConfusion, []string{
		"don't understand", "confused", "what", "how", "why", "explain",
		"समझ नहीं", "क्या", "कैसे", "क्यों",
	}},
	{conv.IntentAppreciation, []string{
		"thank", "thanks", "great", "helpful", "good", "nice", "appreciate",
		"धन्यवाद", "शुक्रिया", "अच्छा", "बढ़िया",
	}},
}

// negativeKeywords and positiveKeywords drive the sentiment score. Each
// keyword present in the utterance counts once regardless of how often it
// occurs.
var negativeKeywords = []string{
	"angry", "frustrated", "annoyed", "upset", "terrible", "worst", "hate",
	"pathetic", "useless", "stupid", "waste", "never", "disgusted", "bad",
	"गुस्सा", "परेशान", "बकवास", "बेकार", "घटिया", "नाराज़",
	"गुस्से", "निराशा", "खराब", "बुरा", "चिढ़", "तंग", "थक",
	"पागल", "बर्बाद", "झूठ", "धोखा", "फालतू",
}

var positiveKeywords = []string{
	"thank", "thanks", "great", "good", "nice", "helpful", "appreciate",
	"awesome", "excellent", "perfect", "love", "best",
	"धन्यवाद", "शुक्रिया", "अच्छा", "बढ़िया", "शानदार",
}
