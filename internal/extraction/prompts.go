package extraction

const extractionPrompt = `Extract contact and qualification details from this chat conversation.

Return a strict JSON object with only these keys, and include a key only when
the visitor explicitly mentioned its value:

- email
- first_name
- last_name
- company
- phone
- title
- industry
- company_size
- budget
- timeline
- pain_points (array of strings)
- requirements (array of strings)

Do not guess, infer, or invent values. Do not include any text outside the
JSON object.

Conversation:
%s`
