package engine

import "fmt"

// Prompt text for the course-guidance assistant. The wording is part of
// the product behavior; edit together with the chatbot team.

const systemPrompt = `1. rules & guidelines
- You are a helpful assistant of education department with 30 years of experience at 충남대학교(Chungnam National University).
- Please kindly answer questions from new university students or those struggling with career and major decisions.
- Do not hallucinate or invent any courses; only mention courses based on the provided context.
- Always respond in Korean. Refer to the most recent message in the conversation for your answer.

2. If you determine that there is a suitable service related to the user's question as described below, recommend the relevant service by connecting the intended action of the user with the following service descriptions
but, If sufficient information has already been provided to the user, you do not need to recommend the services described below. :
- 학과 정보 탐색 서비스: Provides answers to questions about key points, required competencies, and career paths related to the department of interest, using information based on interviews with professors, as well as information that students are generally curious about.
- 학과별 커리큘럼 서비스: Offers similar KOCW lectures, YouTube lectures, and web-based study materials based on major courses offered at Chungnam National University.
- 챗봇 채팅 서비스: Enables users to ask about the most popular courses taken by students in their department of interest, and to check which courses are available for third- and fourth-year students in that department.`

const searchFormatRules = `And after the search, format the result as follows. For each entry, apply the following rules:

1. Wrap the entire block with the tag named below for this search kind.
2. If a **title** exists, wrap it with [[TITLE]] and [[/TITLE]].
3. If a **URL/link** exists, wrap it with [[LINK]] and [[/LINK]].
4. If a **thumbnail** exists, wrap it with [[THUMBNAIL]] and [[/THUMBNAIL]].
5. If there is any remaining **description or metadata**, place it outside the above tags and wrap it with [[DESCRIPTION]] and [[/DESCRIPTION]].
6. If any of the title, link, or thumbnail is **missing**, do not include their corresponding tags at all.
7. Repeat this structure for each item in the input.

Only output the properly tagged content. Do not add explanations or comments. Do this consistently for all items in the list.
DESCRIPTION must be in Korean.`

func youtubeSearchPrompt(instruction, results string) string {
	return fmt.Sprintf(`Search results for 7 YouTube videos related to the instruction are provided below.
For each video, provide the video title, link, thumbnail, and a clear description.
Exclude negative or inappropriate content and explain how such content was filtered out.
instruction: %s

%s
Block tag: [[YOUTUBE_VIDEO]] ... [[/YOUTUBE_VIDEO]]

### Search results
%s`, instruction, searchFormatRules, results)
}

func kocwSearchPrompt(instruction, results string) string {
	return fmt.Sprintf(`KOCW lecture search results related to the instruction are provided below.
Recommend lectures that match the instruction, with title, link, and a clear description.
instruction: %s

%s
Block tag: [[KOCW_VIDEO]] ... [[/KOCW_VIDEO]]

### Search results
%s`, instruction, searchFormatRules, results)
}

func webSearchPrompt(instruction, results string) string {
	return fmt.Sprintf(`Web search results about the question are provided below.
Please cite the sources of search results and respond in Korean.
Question: %s

%s
Block tag: [[WEB_SEARCH]] ... [[/WEB_SEARCH]]

### Search results
%s`, instruction, searchFormatRules, results)
}

func departmentSearchPrompt(instruction, context string) string {
	return fmt.Sprintf(`Please answer the following question using the provided context information.
Please follow these guidelines when generating your response:
    1. Mandatory source citation for all content derived from the provided context
    2. Format citations as "**[id, question(in context, not instruction), answer]**" after each relevant information
    3. Distinguish between different sources when using information from multiple references
    4. Clearly indicate when using general knowledge by noting "commonly known fact" or "general knowledge"

Please respond in Korean.

### Question
%s

### Context
%s`, instruction, context)
}

// departmentMissingMessage is the degraded reply when no department was
// supplied for a department lookup.
const departmentMissingMessage = "학과 정보가 주어지지 않아서 답변을 대답할 수 없다는 맥락으로 답변하세요."

func mergePrompt(instruction string) string {
	return fmt.Sprintf(`Please reconstruct the message content based on the conversation history so far.

Please structure your response so that it directly answers the user's most recent question.

If the assistant suggests videos or external links related to the instruction, please provide accessible links to those contents.

instruction: %s

You can be a formatting assistant. For each video entry, keep the [[YOUTUBE_VIDEO]], [[KOCW_VIDEO]] and [[WEB_SEARCH]] block tags with their [[TITLE]], [[LINK]], [[THUMBNAIL]] and [[DESCRIPTION]] inner tags, distinguishing youtube, kocw and web results by their block tag. If any of the title, link, or thumbnail is missing, do not include their corresponding tags at all. DESCRIPTION must be in Korean.`, instruction)
}

// degradedHandlerMessage is appended when a capability handler could not
// serve, so the merge step can explain the gap instead of failing.
func degradedHandlerMessage(capability string) string {
	return fmt.Sprintf("'%s' 검색 서비스에 일시적으로 연결할 수 없어 해당 결과 없이 답변합니다.", capability)
}
